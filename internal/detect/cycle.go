package detect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/graph"
)

// checkEvery is how many DFS steps pass between context and budget checks.
const checkEvery = 1024

var errBudgetExceeded = errors.New("cycle enumeration budget exceeded")

// CycleDetector finds elementary directed cycles and merges cycles that
// share an account into cycle regions.
type CycleDetector struct {
	minLen    int
	maxLen    int
	budget    time.Duration
	maxCycles int
	logger    *slog.Logger

	// now is replaced in tests to force budget expiry.
	now func() time.Time
}

// NewCycleDetector creates a cycle detector from cfg.
func NewCycleDetector(cfg domain.DetectionConfig, logger *slog.Logger) *CycleDetector {
	if logger == nil {
		logger = slog.Default()
	}
	minLen := cfg.MinCycleLength
	if minLen < 2 {
		minLen = 2
	}
	return &CycleDetector{
		minLen:    minLen,
		maxLen:    cfg.MaxCycleLength,
		budget:    cfg.CycleBudget,
		maxCycles: cfg.MaxCycles,
		logger:    logger,
		now:       time.Now,
	}
}

// Name implements Detector.
func (d *CycleDetector) Name() string {
	return "cycle"
}

// Detect implements Detector. If enumeration runs past its budget the
// detector reports every non-trivial SCC as one region instead.
func (d *CycleDetector) Detect(ctx context.Context, g *graph.Graph) (*Findings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	comps := stronglyConnected(g)

	cycles, err := d.enumerate(ctx, g, comps)
	if errors.Is(err, errBudgetExceeded) {
		d.logger.Warn("cycle enumeration degraded to SCC regions",
			"budget", d.budget,
			"max_cycles", d.maxCycles,
			"components", len(comps),
		)
		return d.sccRegions(g, comps), nil
	}
	if err != nil {
		return nil, err
	}

	f := newFindings(d.Name())
	uf := newUnionFind()
	for _, cycle := range cycles {
		for _, v := range cycle {
			id := g.ID(v)
			f.set(id).Add(domain.PatternCycle, 1)
			uf.add(id)
		}
		first := g.ID(cycle[0])
		for _, v := range cycle[1:] {
			uf.union(first, g.ID(v))
		}
	}
	for _, members := range uf.groups() {
		f.Groups = append(f.Groups, Group{Type: domain.RingCycle, Members: members})
	}
	return f, nil
}

// enumerate lists elementary cycles of length minLen..maxLen inside each
// SCC. Each cycle is rooted at its smallest node and extended through
// larger nodes only, so it is found exactly once.
func (d *CycleDetector) enumerate(ctx context.Context, g *graph.Graph, comps [][]int) ([][]int, error) {
	compOf := make([]int, g.Len())
	for i := range compOf {
		compOf[i] = -1
	}
	for c, members := range comps {
		if len(members) < 2 {
			continue
		}
		for _, v := range members {
			compOf[v] = c
		}
	}

	var deadline time.Time
	if d.budget > 0 {
		deadline = d.now().Add(d.budget)
	}

	var (
		cycles [][]int
		steps  int
		onPath = make([]bool, g.Len())
	)

	for c, members := range comps {
		if len(members) < 2 {
			continue
		}
		for _, s := range members {
			path := []int{s}
			next := []int{0}
			onPath[s] = true

			for len(path) > 0 {
				steps++
				if steps%checkEvery == 0 {
					if err := ctx.Err(); err != nil {
						return nil, err
					}
					if !deadline.IsZero() && d.now().After(deadline) {
						return nil, errBudgetExceeded
					}
				}

				top := len(path) - 1
				v := path[top]
				succ := g.Successors(v)
				if next[top] >= len(succ) {
					onPath[v] = false
					path = path[:top]
					next = next[:top]
					continue
				}
				w := succ[next[top]]
				next[top]++

				if w == s {
					if len(path) >= d.minLen {
						cycles = append(cycles, append([]int(nil), path...))
						if d.maxCycles > 0 && len(cycles) > d.maxCycles {
							return nil, errBudgetExceeded
						}
					}
					continue
				}
				if w < s || compOf[w] != c || onPath[w] || len(path) >= d.maxLen {
					continue
				}
				onPath[w] = true
				path = append(path, w)
				next = append(next, 0)
			}
		}
	}
	return cycles, nil
}

// sccRegions is the degraded result: one region per SCC of size >= 2.
func (d *CycleDetector) sccRegions(g *graph.Graph, comps [][]int) *Findings {
	f := newFindings(d.Name())
	f.Degraded = true
	for _, members := range comps {
		if len(members) < 2 {
			continue
		}
		ids := make([]string, len(members))
		for i, v := range members {
			ids[i] = g.ID(v)
			f.set(ids[i]).Add(domain.PatternCycle, 1)
		}
		f.Groups = append(f.Groups, Group{Type: domain.RingCycle, Members: ids})
	}
	return f
}
