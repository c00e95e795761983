package ingest

import "strings"

// columns maps the four ledger fields to row positions.
type columns struct {
	source, target, amount, timestamp int
}

var positional = columns{source: 0, target: 1, amount: 2, timestamp: 3}

var headerAliases = map[string]func(*columns, int){
	"source_account_id": func(c *columns, i int) { c.source = i },
	"sender_id":         func(c *columns, i int) { c.source = i },
	"from_account":      func(c *columns, i int) { c.source = i },
	"target_account_id": func(c *columns, i int) { c.target = i },
	"receiver_id":       func(c *columns, i int) { c.target = i },
	"to_account":        func(c *columns, i int) { c.target = i },
	"amount":            func(c *columns, i int) { c.amount = i },
	"timestamp":         func(c *columns, i int) { c.timestamp = i },
}

// resolveColumns maps fields by header name when all four are named,
// and falls back to positional columns otherwise.
func resolveColumns(header []string) columns {
	cols := columns{source: -1, target: -1, amount: -1, timestamp: -1}
	for i, name := range header {
		if set, ok := headerAliases[strings.ToLower(name)]; ok {
			set(&cols, i)
		}
	}
	if cols.source < 0 || cols.target < 0 || cols.amount < 0 || cols.timestamp < 0 {
		return positional
	}
	return cols
}

func (c columns) max() int {
	m := c.source
	for _, v := range []int{c.target, c.amount, c.timestamp} {
		if v > m {
			m = v
		}
	}
	return m
}
