// Package graph builds the account graph shared read-only by every detector.
package graph

import (
	"sort"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/ingest"
)

// Graph is the immutable transaction graph of one analysis run.
// Node ids and neighbor lists are in ascending id order.
type Graph struct {
	nodes    []string
	index    map[string]int
	out      [][]int
	in       [][]int
	edges    map[[2]int]*domain.Edge
	accounts []*domain.Account
}

// Build assembles the graph from a parsed ledger.
func Build(ledger *ingest.Ledger) *Graph {
	g := &Graph{
		nodes: append([]string(nil), ledger.AccountIDs...),
		index: make(map[string]int, len(ledger.AccountIDs)),
		edges: make(map[[2]int]*domain.Edge, len(ledger.Edges)),
	}
	sort.Strings(g.nodes)
	for i, id := range g.nodes {
		g.index[id] = i
	}

	n := len(g.nodes)
	g.out = make([][]int, n)
	g.in = make([][]int, n)
	g.accounts = make([]*domain.Account, n)
	for i, id := range g.nodes {
		g.accounts[i] = &domain.Account{ID: id}
	}

	for i := range ledger.Edges {
		e := &ledger.Edges[i]
		s, t := g.index[e.Source], g.index[e.Target]
		g.out[s] = append(g.out[s], t)
		g.in[t] = append(g.in[t], s)
		g.edges[[2]int{s, t}] = e
	}
	for i := 0; i < n; i++ {
		sort.Ints(g.out[i])
		sort.Ints(g.in[i])
	}

	for _, tx := range ledger.Transactions {
		src := g.accounts[g.index[tx.SourceAccountID]]
		dst := g.accounts[g.index[tx.TargetAccountID]]
		src.Outgoing = append(src.Outgoing, tx)
		dst.Incoming = append(dst.Incoming, tx)
	}
	for _, acc := range g.accounts {
		sortChronological(acc.Incoming, acc.ID)
		sortChronological(acc.Outgoing, acc.ID)
	}

	return g
}

// sortChronological orders by timestamp, breaking ties by counterparty then
// amount so the order does not depend on input row order.
func sortChronological(txs []domain.Transaction, accountID string) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if ca, cb := a.Counterparty(accountID), b.Counterparty(accountID); ca != cb {
			return ca < cb
		}
		return a.Amount.LessThan(b.Amount)
	})
}

// Len returns the number of accounts.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all account ids in ascending order.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// ID returns the account id of node i.
func (g *Graph) ID(i int) string {
	return g.nodes[i]
}

// Index returns the node index of an account id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Successors returns the targets of node i's outgoing edges, ascending.
func (g *Graph) Successors(i int) []int {
	return g.out[i]
}

// Predecessors returns the sources of node i's incoming edges, ascending.
func (g *Graph) Predecessors(i int) []int {
	return g.in[i]
}

// Edge returns the aggregated edge from s to t, if any.
func (g *Graph) Edge(s, t int) (*domain.Edge, bool) {
	e, ok := g.edges[[2]int{s, t}]
	return e, ok
}

// Account returns the account at node i.
func (g *Graph) Account(i int) *domain.Account {
	return g.accounts[i]
}

// EdgeCount returns the number of aggregated edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Degree returns the number of distinct out- and in-neighbors of node i.
func (g *Graph) Degree(i int) (out, in int) {
	return len(g.out[i]), len(g.in[i])
}
