package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/mulerift/internal/domain"
)

// Scorer computes per-account suspicion scores. A Scorer memoizes curve
// evaluations and is not safe for concurrent use; create one per run.
type Scorer struct {
	cfg   domain.ScoringConfig
	curve *Curve
	memo  map[[2]float64]float64
}

// NewScorer creates a scorer from the calibration parameters.
func NewScorer(cfg domain.ScoringConfig) (*Scorer, error) {
	curve, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	return newScorer(cfg, curve), nil
}

// Compile validates the calibration parameters and compiles their curve.
// The returned curve may be shared by concurrent runs.
func Compile(cfg domain.ScoringConfig) (*Curve, error) {
	if cfg.CycleSaturation <= 0 || cfg.SmurfingSaturation <= 0 {
		return nil, fmt.Errorf("saturations must be positive")
	}
	if cfg.CycleWeight < 0 || cfg.TemporalWeight < 0 {
		return nil, fmt.Errorf("weights must not be negative")
	}
	return NewCurve(cfg.NormalizeExpr)
}

func newScorer(cfg domain.ScoringConfig, curve *Curve) *Scorer {
	return &Scorer{
		cfg:   cfg,
		curve: curve,
		memo:  make(map[[2]float64]float64),
	}
}

func (s *Scorer) normalize(x, saturation float64) (float64, error) {
	if x <= 0 {
		return 0, nil
	}
	key := [2]float64{x, saturation}
	if v, ok := s.memo[key]; ok {
		return v, nil
	}
	v, err := s.curve.Normalize(x, saturation)
	if err != nil {
		return 0, err
	}
	s.memo[key] = v
	return v, nil
}

// Score returns the suspicion score of an evidence set, rounded to one
// decimal:
//
//	clamp(CycleWeight*norm(cycle) + TemporalWeight*temporal, 0, 100)
//	temporal = max(norm(fanin), norm(fanout), shell ? 100 : 0)
func (s *Scorer) Score(ev domain.EvidenceSet) (domain.Score, error) {
	cycle, err := s.normalize(float64(ev.Get(domain.PatternCycle)), s.cfg.CycleSaturation)
	if err != nil {
		return 0, err
	}
	fanIn, err := s.normalize(float64(ev.Get(domain.PatternSmurfingFanIn)), s.cfg.SmurfingSaturation)
	if err != nil {
		return 0, err
	}
	fanOut, err := s.normalize(float64(ev.Get(domain.PatternSmurfingFanOut)), s.cfg.SmurfingSaturation)
	if err != nil {
		return 0, err
	}

	temporal := math.Max(fanIn, fanOut)
	if ev.Get(domain.PatternShellLayering) > 0 {
		temporal = 100
	}

	score := s.cfg.CycleWeight*cycle + s.cfg.TemporalWeight*temporal
	score = math.Min(100, math.Max(0, score))
	return domain.Score(domain.Score(score).Rounded()), nil
}
