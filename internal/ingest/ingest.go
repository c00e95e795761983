// Package ingest parses raw ledger rows into validated transactions and
// folds them into aggregated edges.
package ingest

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/mulerift/internal/domain"
)

// SkipReason explains why a data row was dropped.
type SkipReason string

const (
	SkipMissingField SkipReason = "missing_field"
	SkipBadAmount    SkipReason = "bad_amount"
	SkipNonPositive  SkipReason = "non_positive_amount"
	SkipBadTimestamp SkipReason = "bad_timestamp"
	SkipSelfLoop     SkipReason = "self_loop"
	SkipBadAccount   SkipReason = "bad_account_id"
	SkipRowTooLong   SkipReason = "row_too_long"
)

// MaxRowBytes bounds a single ledger line. Longer rows are skipped.
const MaxRowBytes = 1 << 20

// AllSkipReasons lists every skip reason in reporting order.
var AllSkipReasons = []SkipReason{
	SkipMissingField,
	SkipBadAmount,
	SkipNonPositive,
	SkipBadTimestamp,
	SkipSelfLoop,
	SkipBadAccount,
	SkipRowTooLong,
}

// Ledger is the validated content of one input file.
type Ledger struct {
	Source       string
	Transactions []domain.Transaction
	Edges        []domain.Edge // ordered by (source, target)
	AccountIDs   []string      // ascending
	Rows         int           // data rows seen, header excluded
	Skipped      int
	SkipReasons  map[SkipReason]int
}

// ParseFile reads and parses the ledger at path.
func ParseFile(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewError(domain.KindInput, path, err)
	}
	return Parse(bytes.NewReader(data), path)
}

// Parse reads a header row followed by data rows from r. source names the
// input in errors.
func Parse(r io.Reader, source string) (*Ledger, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var cols columns
	headerSeen := false

	ledger := &Ledger{
		Source:      source,
		SkipReasons: make(map[SkipReason]int),
	}

	for {
		line, tooLong, err := readLine(br)
		if err != nil && err != io.EOF {
			return nil, domain.NewError(domain.KindInput, source, fmt.Errorf("read ledger: %w", err))
		}
		atEOF := err == io.EOF
		if atEOF && line == "" && !tooLong {
			break
		}

		switch {
		case !headerSeen && tooLong:
			return nil, domain.NewError(domain.KindInput, source,
				fmt.Errorf("header row exceeds %d bytes", MaxRowBytes))
		case !headerSeen:
			line = strings.TrimPrefix(line, "\ufeff")
			if strings.TrimSpace(line) != "" {
				cols = resolveColumns(splitRow(line))
				headerSeen = true
			}
		case tooLong:
			ledger.Rows++
			ledger.Skipped++
			ledger.SkipReasons[SkipRowTooLong]++
		case strings.TrimSpace(line) != "":
			ledger.Rows++
			tx, reason := parseRow(splitRow(line), cols)
			if reason != "" {
				ledger.Skipped++
				ledger.SkipReasons[reason]++
				break
			}
			ledger.Transactions = append(ledger.Transactions, tx)
		}

		if atEOF {
			break
		}
	}

	if !headerSeen {
		return nil, domain.NewError(domain.KindInput, source, errors.New("empty file"))
	}
	if len(ledger.Transactions) == 0 {
		return nil, domain.NewError(domain.KindInput, source,
			fmt.Errorf("no valid transactions (%d data rows, %d skipped)", ledger.Rows, ledger.Skipped))
	}

	ledger.Edges = AggregateEdges(ledger.Transactions)
	ledger.AccountIDs = accountIDs(ledger.Transactions)

	return ledger, nil
}

// AggregateEdges folds transactions by ordered (source, target) pair.
func AggregateEdges(txs []domain.Transaction) []domain.Edge {
	type pair struct{ src, dst string }

	index := make(map[pair]int)
	var edges []domain.Edge
	for _, tx := range txs {
		key := pair{tx.SourceAccountID, tx.TargetAccountID}
		i, ok := index[key]
		if !ok {
			i = len(edges)
			index[key] = i
			edges = append(edges, domain.Edge{})
		}
		edges[i].Fold(tx)
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

func accountIDs(txs []domain.Transaction) []string {
	seen := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		seen[tx.SourceAccountID] = struct{}{}
		seen[tx.TargetAccountID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// readLine returns the next line without its terminator. A line longer
// than MaxRowBytes is consumed and reported as tooLong without being
// buffered in full.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > MaxRowBytes+2 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		line = strings.TrimRight(string(buf), "\r\n")
		if !tooLong && len(line) > MaxRowBytes {
			tooLong = true
			line = ""
		}
		return line, tooLong, err
	}
}

// splitRow splits on the delimiter. Quoting is not supported.
func splitRow(line string) []string {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

func parseRow(fields []string, cols columns) (domain.Transaction, SkipReason) {
	if len(fields) <= cols.max() {
		return domain.Transaction{}, SkipMissingField
	}

	src := fields[cols.source]
	dst := fields[cols.target]
	rawAmount := fields[cols.amount]
	rawTS := fields[cols.timestamp]
	if src == "" || dst == "" || rawAmount == "" || rawTS == "" {
		return domain.Transaction{}, SkipMissingField
	}
	if !utf8.ValidString(src) || !utf8.ValidString(dst) {
		return domain.Transaction{}, SkipBadAccount
	}

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return domain.Transaction{}, SkipBadAmount
	}
	if !amount.IsPositive() {
		return domain.Transaction{}, SkipNonPositive
	}

	ts, err := ParseTimestamp(rawTS)
	if err != nil {
		return domain.Transaction{}, SkipBadTimestamp
	}

	if src == dst {
		return domain.Transaction{}, SkipSelfLoop
	}

	return domain.Transaction{
		SourceAccountID: src,
		TargetAccountID: dst,
		Amount:          amount,
		Timestamp:       ts,
	}, ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 instant. Zone-less values are UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", raw)
}

// Digest returns the hex SHA-256 of a raw ledger. Identical bytes always
// produce an identical analysis, so the digest keys cached results.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
