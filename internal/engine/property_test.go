//go:build property
// +build property

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/report"
)

type row struct {
	src, dst string
	offset   time.Duration
}

func rows(srcs, dsts, offsets []int) []row {
	n := min(len(srcs), len(dsts), len(offsets))
	out := make([]row, n)
	for i := 0; i < n; i++ {
		out[i] = row{
			src:    fmt.Sprintf("ACC%02d", srcs[i]),
			dst:    fmt.Sprintf("ACC%02d", dsts[i]),
			offset: time.Duration(offsets[i]) * time.Minute,
		}
	}
	return out
}

func render(rs []row) []byte {
	var b strings.Builder
	b.WriteString(header)
	for i, r := range rs {
		fmt.Fprintf(&b, "TX%d,%s,%s,100,%s\n", i, r.src, r.dst, t0.Add(r.offset).Format(time.RFC3339))
	}
	return []byte(b.String())
}

func distinctAccounts(rs []row) int {
	seen := make(map[string]bool)
	for _, r := range rs {
		if r.src == r.dst {
			continue
		}
		seen[r.src] = true
		seen[r.dst] = true
	}
	return len(seen)
}

// TestResultInvariants checks the output contract on random ledgers.
func TestResultInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	a, err := New(domain.DefaultDetectionConfig(), domain.DefaultScoringConfig(), WithClock(fixedClock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	properties.Property("every result satisfies the contract", prop.ForAll(
		func(srcs, dsts, offsets []int) bool {
			rs := rows(srcs, dsts, offsets)
			got, err := a.AnalyzeBytes(context.Background(), "random.csv", render(rs))

			want := distinctAccounts(rs)
			if want == 0 {
				return errors.Is(err, domain.ErrInput)
			}
			if err != nil {
				return false
			}
			if got.Result.Summary.TotalAccountsAnalyzed != want {
				return false
			}
			for _, acc := range got.Result.SuspiciousAccounts {
				if len(acc.DetectedPatterns) == 0 {
					return false
				}
			}
			return report.Validate(got.Result) == nil
		},
		gen.SliceOf(gen.IntRange(0, 11)),
		gen.SliceOf(gen.IntRange(0, 11)),
		gen.SliceOf(gen.IntRange(0, 6000)),
	))

	properties.TestingRun(t)
}

// TestRowOrderIndependence verifies the document does not depend on the
// order of ledger rows.
func TestRowOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	a, err := New(domain.DefaultDetectionConfig(), domain.DefaultScoringConfig(), WithClock(fixedClock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	properties.Property("reversed rows give the same document", prop.ForAll(
		func(srcs, dsts, offsets []int) bool {
			rs := rows(srcs, dsts, offsets)
			if distinctAccounts(rs) == 0 {
				return true
			}
			reversed := make([]row, len(rs))
			for i, r := range rs {
				reversed[len(rs)-1-i] = r
			}

			first, err1 := a.AnalyzeBytes(context.Background(), "a.csv", render(rs))
			second, err2 := a.AnalyzeBytes(context.Background(), "b.csv", render(reversed))
			if err1 != nil || err2 != nil {
				return false
			}
			return string(first.Document) == string(second.Document)
		},
		gen.SliceOf(gen.IntRange(0, 7)),
		gen.SliceOf(gen.IntRange(0, 7)),
		gen.SliceOf(gen.IntRange(0, 600)),
	))

	properties.TestingRun(t)
}
