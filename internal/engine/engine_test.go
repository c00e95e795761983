package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/mulerift/internal/domain"
)

const header = "transaction_id,sender_id,receiver_id,amount,timestamp\n"

var t0 = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0 }

func newAnalyzer(t *testing.T, opts ...Option) *Analyzer {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	a, err := New(domain.DefaultDetectionConfig(), domain.DefaultScoringConfig(), opts...)
	require.NoError(t, err)
	return a
}

type ledger struct {
	b strings.Builder
	n int
}

func (l *ledger) add(src, dst string, offset time.Duration) *ledger {
	l.n++
	fmt.Fprintf(&l.b, "TX%04d,%s,%s,250.00,%s\n", l.n, src, dst, t0.Add(offset).Format("2006-01-02 15:04:05"))
	return l
}

func (l *ledger) bytes() []byte {
	return []byte(header + l.b.String())
}

func account(r *domain.AnalysisResult, id string) *domain.SuspiciousAccount {
	for i := range r.SuspiciousAccounts {
		if r.SuspiciousAccounts[i].AccountID == id {
			return &r.SuspiciousAccounts[i]
		}
	}
	return nil
}

func TestScenarioCycle(t *testing.T) {
	var l ledger
	l.add("A", "B", 0).add("B", "C", time.Hour).add("C", "A", 2*time.Hour)

	got, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "cycle.csv", l.bytes())
	require.NoError(t, err)
	r := got.Result

	require.Len(t, r.FraudRings, 1)
	ring := r.FraudRings[0]
	assert.Equal(t, "RING_001", ring.RingID)
	assert.Equal(t, domain.RingCycle, ring.PatternType)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, ring.MemberAccounts)

	for _, id := range []string{"A", "B", "C"} {
		acc := account(r, id)
		require.NotNil(t, acc, id)
		assert.Contains(t, acc.DetectedPatterns, "cycle:1")
		assert.Equal(t, "RING_001", acc.RingID)
	}
	assert.Equal(t, 3, r.Summary.TotalAccountsAnalyzed)
	assert.Equal(t, 3, r.Summary.SuspiciousAccountsFlagged)
	assert.Equal(t, 1, r.Summary.FraudRingsDetected)
	assert.False(t, got.Degraded)

	assert.Contains(t, string(got.Document), `"pattern_type":"cycle","risk_score":56.7`)
}

func TestScenarioSmurfing(t *testing.T) {
	var l ledger
	for i := 0; i < 10; i++ {
		l.add(fmt.Sprintf("SENDER_%02d", i), "HUB", time.Duration(i)*time.Minute)
	}

	got, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "smurf.csv", l.bytes())
	require.NoError(t, err)
	r := got.Result

	hub := account(r, "HUB")
	require.NotNil(t, hub)
	assert.Equal(t, []string{"smurfing_fanin:10"}, hub.DetectedPatterns)
	assert.Equal(t, "HUB", r.SuspiciousAccounts[0].AccountID)

	require.Len(t, r.FraudRings, 1)
	assert.Equal(t, domain.RingSmurfing, r.FraudRings[0].PatternType)
	assert.Contains(t, r.FraudRings[0].MemberAccounts, "HUB")
	assert.Equal(t, r.FraudRings[0].RingID, hub.RingID)
}

func TestScenarioShell(t *testing.T) {
	var l ledger
	l.add("ORIGIN", "SHELL", 0).add("SHELL", "EXIT", time.Hour)
	l.add("ORIGIN2", "BUSY", 0).add("BUSY", "EXIT2", time.Hour).add("BUSY", "ELSEWHERE", 30*time.Hour)

	got, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "shell.csv", l.bytes())
	require.NoError(t, err)
	r := got.Result

	shell := account(r, "SHELL")
	require.NotNil(t, shell)
	assert.Equal(t, []string{"shell_layering:1"}, shell.DetectedPatterns)
	assert.Empty(t, shell.RingID)
	assert.Nil(t, account(r, "BUSY"))
	assert.NotContains(t, string(got.Document), `"ring_id":""`)
}

func TestScenarioSelfLoop(t *testing.T) {
	var l ledger
	l.add("LOOP", "LOOP", 0).add("A", "B", time.Hour)

	got, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "loop.csv", l.bytes())
	require.NoError(t, err)

	assert.Equal(t, 2, got.Result.Summary.TotalAccountsAnalyzed)
	assert.Equal(t, 1, got.Ledger.Skipped)
	assert.Nil(t, account(got.Result, "LOOP"))
	assert.Empty(t, got.Result.FraudRings)
}

func TestOversizedRowKeepsRing(t *testing.T) {
	var l ledger
	l.add("A", "B", 0).add("B", "C", time.Hour).add("C", "A", 2*time.Hour)
	data := append(l.bytes(), []byte("TX9999,A,"+strings.Repeat("Z", 2<<20)+",250.00,2024-05-10 12:00:00\n")...)

	got, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "long.csv", data)
	require.NoError(t, err)

	assert.Equal(t, 1, got.Ledger.Skipped)
	require.Len(t, got.Result.FraudRings, 1)
	assert.Equal(t, domain.RingCycle, got.Result.FraudRings[0].PatternType)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, got.Result.FraudRings[0].MemberAccounts)
}

func TestInvalidUTF8AccountsDoNotCollide(t *testing.T) {
	var l ledger
	l.add("A\xff", "A\xfe", 0).add("A\xfe", "C", time.Hour).add("C", "A\xff", 2*time.Hour)
	l.add("A", "B", 0).add("B", "C", time.Hour).add("C", "A", 2*time.Hour)

	got, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "bytes.csv", l.bytes())
	require.NoError(t, err)

	assert.Equal(t, 3, got.Ledger.Skipped)
	assert.Equal(t, 3, got.Result.Summary.TotalAccountsAnalyzed)
	require.Len(t, got.Result.FraudRings, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, got.Result.FraudRings[0].MemberAccounts)
}

func TestScenarioEmpty(t *testing.T) {
	_, err := newAnalyzer(t).AnalyzeBytes(context.Background(), "empty.csv", []byte(header))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInput))
	assert.Contains(t, err.Error(), "empty.csv")
}

func TestAnalyzeFile(t *testing.T) {
	var l ledger
	l.add("A", "B", 0).add("B", "C", time.Hour).add("C", "A", 2*time.Hour)

	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, l.bytes(), 0o600))

	got, err := newAnalyzer(t).AnalyzeFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Result.Summary.FraudRingsDetected)

	_, err = newAnalyzer(t).AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, errors.Is(err, domain.ErrInput))
}

func TestDeterministic(t *testing.T) {
	var l ledger
	l.add("A", "B", 0).add("B", "C", time.Hour).add("C", "A", 2*time.Hour)
	l.add("C", "D", 3*time.Hour).add("D", "E", 4*time.Hour).add("E", "C", 5*time.Hour)
	for i := 0; i < 12; i++ {
		l.add("HUB", fmt.Sprintf("MULE_%02d", i), time.Duration(i)*time.Hour)
	}
	l.add("X", "S1", 0).add("S1", "S2", time.Hour).add("S2", "Y", 2*time.Hour)

	a := newAnalyzer(t)
	first, err := a.AnalyzeBytes(context.Background(), "mixed.csv", l.bytes())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := a.AnalyzeBytes(context.Background(), "mixed.csv", l.bytes())
		require.NoError(t, err)
		assert.Equal(t, string(first.Document), string(again.Document))
	}

	var ids []string
	for _, ring := range first.Result.FraudRings {
		ids = append(ids, string(ring.PatternType))
	}
	assert.Equal(t, []string{"cycle", "smurfing", "shell"}, ids)
}

func TestCancelledContext(t *testing.T) {
	var l ledger
	l.add("A", "B", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAnalyzer(t).AnalyzeBytes(ctx, "x.csv", l.bytes())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
}

func TestDegradedCycles(t *testing.T) {
	var l ledger
	ids := []string{"K1", "K2", "K3", "K4", "K5"}
	for _, s := range ids {
		for _, d := range ids {
			if s != d {
				l.add(s, d, 0)
			}
		}
	}

	cfg := domain.DefaultDetectionConfig()
	cfg.MaxCycles = 3
	a, err := New(cfg, domain.DefaultScoringConfig(), WithClock(fixedClock))
	require.NoError(t, err)

	got, err := a.AnalyzeBytes(context.Background(), "dense.csv", l.bytes())
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	require.Len(t, got.Result.FraudRings, 1)
	assert.Equal(t, ids, got.Result.FraudRings[0].MemberAccounts)
}

func TestNewRejectsBadConfig(t *testing.T) {
	scoringCfg := domain.DefaultScoringConfig()
	scoringCfg.NormalizeExpr = "x * -1.0"
	_, err := New(domain.DefaultDetectionConfig(), scoringCfg)
	assert.Error(t, err)

	detection := domain.DefaultDetectionConfig()
	detection.MaxCycleLength = 2
	_, err = New(detection, domain.DefaultScoringConfig())
	assert.Error(t, err)
}
