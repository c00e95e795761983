// Package detect implements the structural and temporal mule-pattern
// detectors. Detectors only read the graph and may run concurrently.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/graph"
)

// Detector finds one family of mule patterns in a graph.
type Detector interface {
	Name() string
	Detect(ctx context.Context, g *graph.Graph) (*Findings, error)
}

// Group is a candidate ring produced by a detector.
type Group struct {
	Type    domain.RingType
	Members []string // detection order
}

// Findings is the evidence and candidate rings produced by one detector.
type Findings struct {
	Detector string
	Evidence map[string]*domain.EvidenceSet
	Groups   []Group

	// Degraded is set when the detector fell back to a coarser method.
	Degraded bool
}

func newFindings(name string) *Findings {
	return &Findings{
		Detector: name,
		Evidence: make(map[string]*domain.EvidenceSet),
	}
}

func (f *Findings) set(id string) *domain.EvidenceSet {
	s, ok := f.Evidence[id]
	if !ok {
		s = &domain.EvidenceSet{}
		f.Evidence[id] = s
	}
	return s
}

// All returns the three detectors configured from cfg.
func All(cfg domain.DetectionConfig, logger *slog.Logger) []Detector {
	return []Detector{
		NewCycleDetector(cfg, logger),
		NewSmurfingDetector(cfg),
		NewShellDetector(cfg),
	}
}

// Run executes detectors concurrently, at most maxWorkers at a time, and
// returns their findings in detector order. Any failure fails the run.
func Run(ctx context.Context, g *graph.Graph, detectors []Detector, maxWorkers int) ([]*Findings, error) {
	if maxWorkers <= 0 {
		maxWorkers = len(detectors)
	}

	results := make([]*Findings, len(detectors))
	errs := make([]error, len(detectors))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, maxWorkers)

	for i, d := range detectors {
		wg.Add(1)
		go func(idx int, d Detector) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}

			f, err := d.Detect(ctx, g)
			if err != nil {
				errs[idx] = fmt.Errorf("%s detector: %w", d.Name(), err)
				return
			}
			results[idx] = f
		}(i, d)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
