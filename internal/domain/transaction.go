package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single validated transfer between two accounts.
type Transaction struct {
	SourceAccountID string          `json:"source_account_id"`
	TargetAccountID string          `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Counterparty returns the account on the other side of the transfer
// relative to accountID.
func (t Transaction) Counterparty(accountID string) string {
	if t.SourceAccountID == accountID {
		return t.TargetAccountID
	}
	return t.SourceAccountID
}

// Edge aggregates every transaction sharing one ordered (source, target) pair.
type Edge struct {
	Source            string          `json:"source"`
	Target            string          `json:"target"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TransactionCount  int             `json:"transaction_count"`
	EarliestTimestamp time.Time       `json:"earliest_timestamp"`
	LatestTimestamp   time.Time       `json:"latest_timestamp"`
}

// Fold adds a transaction to the edge aggregate.
func (e *Edge) Fold(tx Transaction) {
	if e.TransactionCount == 0 {
		e.Source = tx.SourceAccountID
		e.Target = tx.TargetAccountID
		e.TotalAmount = tx.Amount
		e.EarliestTimestamp = tx.Timestamp
		e.LatestTimestamp = tx.Timestamp
		e.TransactionCount = 1
		return
	}

	e.TotalAmount = e.TotalAmount.Add(tx.Amount)
	e.TransactionCount++
	if tx.Timestamp.Before(e.EarliestTimestamp) {
		e.EarliestTimestamp = tx.Timestamp
	}
	if tx.Timestamp.After(e.LatestTimestamp) {
		e.LatestTimestamp = tx.Timestamp
	}
}

// Account is a node of the transaction graph. It only lives for one analysis run.
type Account struct {
	ID       string
	Incoming []Transaction // chronological
	Outgoing []Transaction // chronological
}

// TransactionCount returns the lifetime number of transfers touching the account.
func (a *Account) TransactionCount() int {
	return len(a.Incoming) + len(a.Outgoing)
}
