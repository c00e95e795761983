package detect

import (
	"context"
	"time"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/graph"
)

// SmurfingDetector flags fan-in and fan-out hubs: accounts that trade with
// many distinct counterparties inside one sliding time window.
type SmurfingDetector struct {
	window    time.Duration
	threshold int
}

// NewSmurfingDetector creates a smurfing detector from cfg.
func NewSmurfingDetector(cfg domain.DetectionConfig) *SmurfingDetector {
	return &SmurfingDetector{
		window:    cfg.SmurfingWindow,
		threshold: cfg.SmurfingThreshold,
	}
}

// Name implements Detector.
func (d *SmurfingDetector) Name() string {
	return "smurfing"
}

type direction struct {
	kind  domain.PatternKind
	txs   func(*domain.Account) []domain.Transaction
	party func(domain.Transaction) string

	// distinct counterparties over the account's lifetime
	degree func(g *graph.Graph, i int) int
}

var directions = []direction{
	{
		kind:   domain.PatternSmurfingFanIn,
		txs:    func(a *domain.Account) []domain.Transaction { return a.Incoming },
		party:  func(tx domain.Transaction) string { return tx.SourceAccountID },
		degree: inDegree,
	},
	{
		kind:   domain.PatternSmurfingFanOut,
		txs:    func(a *domain.Account) []domain.Transaction { return a.Outgoing },
		party:  func(tx domain.Transaction) string { return tx.TargetAccountID },
		degree: outDegree,
	},
}

func inDegree(g *graph.Graph, i int) int {
	_, in := g.Degree(i)
	return in
}

func outDegree(g *graph.Graph, i int) int {
	out, _ := g.Degree(i)
	return out
}

// Detect implements Detector.
//
// Hubs get their window peak as magnitude. Counterparties inside a hub's
// peak window get participation evidence of the hub's kind counting the
// hubs they were part of, unless they are hubs of that kind themselves.
func (d *SmurfingDetector) Detect(ctx context.Context, g *graph.Graph) (*Findings, error) {
	f := newFindings(d.Name())
	uf := newUnionFind()

	type key struct {
		id   string
		kind domain.PatternKind
	}
	hubs := make(map[key]int)
	participation := make(map[key]int)
	var order []key

	for _, dir := range directions {
		for i := 0; i < g.Len(); i++ {
			if i%checkEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if dir.degree(g, i) < d.threshold {
				continue
			}
			acc := g.Account(i)
			txs := dir.txs(acc)
			peak, lo, hi := peakWindow(txs, dir.party, d.window)
			if peak < d.threshold {
				continue
			}

			hub := key{acc.ID, dir.kind}
			hubs[hub] = peak
			order = append(order, hub)

			uf.add(acc.ID)
			seen := make(map[string]bool, peak)
			for _, tx := range txs[lo : hi+1] {
				cp := dir.party(tx)
				if seen[cp] {
					continue
				}
				seen[cp] = true
				k := key{cp, dir.kind}
				if _, ok := participation[k]; !ok {
					order = append(order, k)
				}
				participation[k]++
				uf.union(acc.ID, cp)
			}
		}
	}

	for _, k := range order {
		if m, ok := hubs[k]; ok {
			f.set(k.id).Raise(k.kind, m)
			continue
		}
		f.set(k.id).Raise(k.kind, participation[k])
	}

	for _, members := range uf.groups() {
		f.Groups = append(f.Groups, Group{Type: domain.RingSmurfing, Members: members})
	}
	return f, nil
}

// peakWindow slides a [t, t+window] window over chronologically sorted
// transactions and returns the largest number of distinct counterparties
// seen together, with the bounds of the first window reaching it.
func peakWindow(txs []domain.Transaction, party func(domain.Transaction) string, window time.Duration) (peak, lo, hi int) {
	counts := make(map[string]int)
	left := 0
	for right, tx := range txs {
		counts[party(tx)]++
		for tx.Timestamp.Sub(txs[left].Timestamp) > window {
			p := party(txs[left])
			counts[p]--
			if counts[p] == 0 {
				delete(counts, p)
			}
			left++
		}
		if len(counts) > peak {
			peak, lo, hi = len(counts), left, right
		}
	}
	return peak, lo, hi
}
