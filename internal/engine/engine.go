// Package engine runs the full mule-ring analysis pipeline: ingest, graph,
// detectors, scoring and contract validation.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/mulerift/internal/detect"
	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/graph"
	"github.com/opensource-finance/mulerift/internal/ingest"
	"github.com/opensource-finance/mulerift/internal/report"
	"github.com/opensource-finance/mulerift/internal/scoring"
)

var tracer = otel.Tracer("mulerift-engine")

// Analyzer runs analyses. It holds only immutable configuration and
// compiled programs, so one Analyzer may serve concurrent callers.
type Analyzer struct {
	detection  domain.DetectionConfig
	scoring    domain.ScoringConfig
	curve      *scoring.Curve
	serializer *report.Serializer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock replaces the clock used to measure processing time.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an analyzer. Invalid calibration parameters are rejected here
// rather than on the first run.
func New(detection domain.DetectionConfig, scoringCfg domain.ScoringConfig, opts ...Option) (*Analyzer, error) {
	a := &Analyzer{
		detection: detection,
		scoring:   scoringCfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if detection.MaxCycleLength < detection.MinCycleLength {
		return nil, fmt.Errorf("max cycle length %d is below min cycle length %d",
			detection.MaxCycleLength, detection.MinCycleLength)
	}
	if detection.SmurfingThreshold < 1 || detection.SmurfingWindow <= 0 {
		return nil, fmt.Errorf("smurfing window and threshold must be positive")
	}

	curve, err := scoring.Compile(scoringCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	a.curve = curve

	serializer, err := report.NewSerializer(a.logger)
	if err != nil {
		return nil, err
	}
	a.serializer = serializer

	return a, nil
}

// Analysis is the outcome of one run.
type Analysis struct {
	Result *domain.AnalysisResult

	// Document is the validated, compact JSON encoding of Result.
	Document []byte

	Ledger *ingest.Ledger

	// Degraded is set when cycle enumeration fell back to SCC regions.
	Degraded bool
}

// AnalyzeFile reads and analyzes a ledger file.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewError(domain.KindInput, path, err)
	}
	return a.AnalyzeBytes(ctx, path, data)
}

// AnalyzeBytes analyzes an in-memory ledger. source names the ledger in
// errors and logs.
func (a *Analyzer) AnalyzeBytes(ctx context.Context, source string, data []byte) (*Analysis, error) {
	return a.Analyze(ctx, source, bytes.NewReader(data))
}

// Analyze runs the pipeline over a ledger stream. It either returns a
// result that satisfies the output contract or fails as a whole.
func (a *Analyzer) Analyze(ctx context.Context, source string, r io.Reader) (*Analysis, error) {
	ctx, span := tracer.Start(ctx, "analyze",
		trace.WithAttributes(attribute.String("ledger.source", source)),
	)
	defer span.End()

	analysis, err := a.run(ctx, source, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("accounts.total", analysis.Result.Summary.TotalAccountsAnalyzed),
		attribute.Int("accounts.flagged", analysis.Result.Summary.SuspiciousAccountsFlagged),
		attribute.Int("rings.detected", analysis.Result.Summary.FraudRingsDetected),
		attribute.Bool("cycles.degraded", analysis.Degraded),
	)
	return analysis, nil
}

func (a *Analyzer) run(ctx context.Context, source string, r io.Reader) (*Analysis, error) {
	start := a.now()

	if err := ctx.Err(); err != nil {
		return nil, timeout(source, err)
	}

	ledger, err := a.ingest(ctx, source, r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, timeout(source, err)
	}

	g := a.build(ctx, ledger)

	findings, err := a.detect(ctx, g)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, timeout(source, err)
		}
		return nil, err
	}

	result, err := a.score(ctx, findings, len(ledger.AccountIDs))
	if err != nil {
		return nil, err
	}
	result.Summary.ProcessingTimeSeconds = domain.Score(a.now().Sub(start).Seconds())

	doc, err := a.serializer.Encode(result)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Result:   result,
		Document: doc,
		Ledger:   ledger,
	}
	for _, f := range findings {
		if f.Degraded {
			analysis.Degraded = true
		}
	}

	a.logger.Info("analysis completed",
		"source", source,
		"accounts", result.Summary.TotalAccountsAnalyzed,
		"flagged", result.Summary.SuspiciousAccountsFlagged,
		"rings", result.Summary.FraudRingsDetected,
		"degraded", analysis.Degraded,
		"duration_ms", a.now().Sub(start).Milliseconds(),
	)
	return analysis, nil
}

func (a *Analyzer) ingest(ctx context.Context, source string, r io.Reader) (*ingest.Ledger, error) {
	_, span := tracer.Start(ctx, "ingest")
	defer span.End()

	start := a.now()
	ledger, err := ingest.Parse(r, source)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("rows", ledger.Rows),
		attribute.Int("rows.skipped", ledger.Skipped),
		attribute.Int("transactions", len(ledger.Transactions)),
	)
	if ledger.Skipped > 0 {
		attrs := []any{"source", source, "skipped", ledger.Skipped}
		for _, reason := range ingest.AllSkipReasons {
			if n := ledger.SkipReasons[reason]; n > 0 {
				attrs = append(attrs, string(reason), n)
			}
		}
		a.logger.Info("skipped malformed rows", attrs...)
	}
	a.logger.Debug("ingest finished",
		"rows", ledger.Rows,
		"transactions", len(ledger.Transactions),
		"edges", len(ledger.Edges),
		"duration_ms", a.now().Sub(start).Milliseconds(),
	)
	return ledger, nil
}

func (a *Analyzer) build(ctx context.Context, ledger *ingest.Ledger) *graph.Graph {
	_, span := tracer.Start(ctx, "graph")
	defer span.End()

	start := a.now()
	g := graph.Build(ledger)
	span.SetAttributes(
		attribute.Int("nodes", g.Len()),
		attribute.Int("edges", g.EdgeCount()),
	)
	a.logger.Debug("graph built",
		"nodes", g.Len(),
		"edges", g.EdgeCount(),
		"duration_ms", a.now().Sub(start).Milliseconds(),
	)
	return g
}

func (a *Analyzer) detect(ctx context.Context, g *graph.Graph) ([]*detect.Findings, error) {
	ctx, span := tracer.Start(ctx, "detect")
	defer span.End()

	start := a.now()
	findings, err := detect.Run(ctx, g, detect.All(a.detection, a.logger), a.detection.MaxWorkers)
	if err != nil {
		return nil, err
	}
	for _, f := range findings {
		span.SetAttributes(attribute.Int("groups."+f.Detector, len(f.Groups)))
		a.logger.Debug("detector finished",
			"detector", f.Detector,
			"accounts", len(f.Evidence),
			"groups", len(f.Groups),
			"degraded", f.Degraded,
		)
	}
	a.logger.Debug("detection finished", "duration_ms", a.now().Sub(start).Milliseconds())
	return findings, nil
}

func (a *Analyzer) score(ctx context.Context, findings []*detect.Findings, total int) (*domain.AnalysisResult, error) {
	_, span := tracer.Start(ctx, "score")
	defer span.End()

	result, err := scoring.NewAggregatorWithCurve(a.scoring, a.curve).Aggregate(findings, total)
	if err != nil {
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	return result, nil
}

func timeout(source string, err error) error {
	return domain.NewError(domain.KindTimeout, source, err)
}
