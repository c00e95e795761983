package scoring

import (
	"sort"

	"github.com/opensource-finance/mulerift/internal/detect"
	"github.com/opensource-finance/mulerift/internal/domain"
)

// Aggregator merges detector findings into suspicious accounts and a strict
// partition of those accounts into typed rings.
type Aggregator struct {
	scorer      *Scorer
	minRingSize int
}

// NewAggregator creates an aggregator for one run.
func NewAggregator(cfg domain.ScoringConfig) (*Aggregator, error) {
	curve, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	return NewAggregatorWithCurve(cfg, curve), nil
}

// NewAggregatorWithCurve creates an aggregator for one run around a curve
// already returned by Compile.
func NewAggregatorWithCurve(cfg domain.ScoringConfig, curve *Curve) *Aggregator {
	minRing := cfg.MinRingSize
	if minRing < 1 {
		minRing = 1
	}
	return &Aggregator{scorer: newScorer(cfg, curve), minRingSize: minRing}
}

// Aggregate scores every account with evidence, assigns rings and fills
// the summary counters. ProcessingTimeSeconds is left to the caller.
func (a *Aggregator) Aggregate(findings []*detect.Findings, totalAccounts int) (*domain.AnalysisResult, error) {
	evidence := mergeEvidence(findings)

	ids := make([]string, 0, len(evidence))
	for id := range evidence {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	accounts := make(map[string]*domain.SuspiciousAccount, len(ids))
	for _, id := range ids {
		ev := evidence[id]
		if ev.Empty() {
			continue
		}
		score, err := a.scorer.Score(ev)
		if err != nil {
			return nil, err
		}
		if score <= 0 {
			continue
		}
		patterns := make([]string, 0, 4)
		for _, e := range ev.List() {
			patterns = append(patterns, e.String())
		}
		accounts[id] = &domain.SuspiciousAccount{
			AccountID:        id,
			SuspicionScore:   score,
			DetectedPatterns: patterns,
		}
	}

	rings := a.partition(findings, evidence, accounts)

	result := &domain.AnalysisResult{
		SuspiciousAccounts: make([]domain.SuspiciousAccount, 0, len(accounts)),
		FraudRings:         rings,
	}
	for _, acc := range accounts {
		result.SuspiciousAccounts = append(result.SuspiciousAccounts, *acc)
	}
	sort.Slice(result.SuspiciousAccounts, func(i, j int) bool {
		x, y := result.SuspiciousAccounts[i], result.SuspiciousAccounts[j]
		if x.SuspicionScore != y.SuspicionScore {
			return x.SuspicionScore > y.SuspicionScore
		}
		return x.AccountID < y.AccountID
	})

	result.Summary = domain.Summary{
		TotalAccountsAnalyzed:     totalAccounts,
		SuspiciousAccountsFlagged: len(result.SuspiciousAccounts),
		FraudRingsDetected:        len(result.FraudRings),
	}
	return result, nil
}

func mergeEvidence(findings []*detect.Findings) map[string]domain.EvidenceSet {
	out := make(map[string]domain.EvidenceSet)
	for _, f := range findings {
		if f == nil {
			continue
		}
		for id, ev := range f.Evidence {
			merged := out[id]
			for _, e := range ev.List() {
				merged.Add(e.Kind, e.Magnitude)
			}
			out[id] = merged
		}
	}
	return out
}

// magnitude is the raw evidence an account brings to a ring of type t:
// its strongest finding of a kind that groups into t.
func magnitude(ev domain.EvidenceSet, t domain.RingType) int {
	m := 0
	for _, e := range ev.List() {
		if e.Kind.RingType() == t {
			m = max(m, e.Magnitude)
		}
	}
	return m
}

// partition assigns every grouped account to exactly one ring type: the one
// with the higher raw magnitude, ties going to the earlier type. Groups left
// below the minimum ring size form no ring.
func (a *Aggregator) partition(findings []*detect.Findings, evidence map[string]domain.EvidenceSet, accounts map[string]*domain.SuspiciousAccount) []domain.FraudRing {
	var groups []detect.Group
	for _, f := range findings {
		if f != nil {
			groups = append(groups, f.Groups...)
		}
	}

	assigned := make(map[string]domain.RingType)
	for _, g := range groups {
		for _, id := range g.Members {
			if _, ok := accounts[id]; !ok {
				continue
			}
			cur, seen := assigned[id]
			if !seen || better(evidence[id], g.Type, cur) {
				assigned[id] = g.Type
			}
		}
	}

	byType := make(map[domain.RingType][][]string)
	for _, g := range groups {
		var members []string
		for _, id := range g.Members {
			if t, ok := assigned[id]; ok && t == g.Type {
				members = append(members, id)
			}
		}
		if len(members) < a.minRingSize {
			continue
		}
		byType[g.Type] = append(byType[g.Type], members)
	}

	var rings []domain.FraudRing
	for _, t := range domain.RingTypes {
		sets := byType[t]
		sort.Slice(sets, func(i, j int) bool {
			return smallest(sets[i]) < smallest(sets[j])
		})
		for _, members := range sets {
			ringID := domain.FormatRingID(len(rings) + 1)
			var total float64
			for _, id := range members {
				acc := accounts[id]
				acc.RingID = ringID
				total += float64(acc.SuspicionScore)
			}
			rings = append(rings, domain.FraudRing{
				RingID:         ringID,
				MemberAccounts: members,
				PatternType:    t,
				RiskScore:      domain.Score(total / float64(len(members))),
			})
		}
	}
	if rings == nil {
		rings = []domain.FraudRing{}
	}
	return rings
}

func better(ev domain.EvidenceSet, candidate, current domain.RingType) bool {
	mc, mr := magnitude(ev, candidate), magnitude(ev, current)
	if mc != mr {
		return mc > mr
	}
	return candidate.Priority() < current.Priority()
}

func smallest(ids []string) string {
	lo := ids[0]
	for _, id := range ids[1:] {
		if id < lo {
			lo = id
		}
	}
	return lo
}
