// Package worker runs queued analyses from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/opensource-finance/mulerift/internal/cache"
	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/engine"
	"github.com/opensource-finance/mulerift/internal/ingest"
)

// Analyzer runs one analysis over an in-memory ledger.
type Analyzer interface {
	AnalyzeBytes(ctx context.Context, source string, data []byte) (*engine.Analysis, error)
}

// Worker consumes analysis requests, archives their outcome and announces
// it on the completed or failed topic.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	analyzer Analyzer
	cache    domain.Cache
	cfg      Config
	now      func() time.Time

	sem           chan struct{}
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of analyses run concurrently.
	WorkerCount int

	// Timeout bounds a single analysis. Zero means no limit.
	Timeout time.Duration

	// ResultTTL is how long completed documents stay cached.
	ResultTTL time.Duration
}

// NewWorker creates a new async worker. cache may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, analyzer Analyzer, c domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	if c == nil {
		c = cache.Noop{}
	}
	return &Worker{
		bus:      bus,
		repo:     repo,
		analyzer: analyzer,
		cache:    c,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to analysis requests.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	w.cfg = cfg
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAnalysisRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicAnalysisRequested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage parses a request and runs it on the pool.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.AnalysisRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.AnalysisID == "" || req.LedgerPath == "" {
		return fmt.Errorf("analysis request %s is missing id or ledger path", msg.ID)
	}

	// Limit concurrency with semaphore
	select {
	case w.sem <- struct{}{}: // Acquire
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }() // Release

		if err := w.Process(w.ctx, req); err != nil {
			slog.Error("analysis failed",
				"analysis_id", req.AnalysisID,
				"error", err,
			)
		}
	}()
	return nil
}

// Process runs one request to completion. The outcome is archived and
// published even when the analysis fails; the returned error is the
// analysis failure, if any.
func (w *Worker) Process(ctx context.Context, req domain.AnalysisRequest) error {
	start := w.now()

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	rec := &domain.AnalysisRecord{
		ID:         req.AnalysisID,
		LedgerPath: req.LedgerPath,
	}

	slog.Debug("processing analysis",
		"analysis_id", req.AnalysisID,
		"ledger_path", req.LedgerPath,
	)

	analysis, err := w.analyze(ctx, rec)
	completed := w.now()
	rec.CompletedAt = &completed

	if err != nil {
		rec.Status = domain.StatusFailed
		rec.ErrorKind = domain.ArchiveKind(err)
		rec.Error = err.Error()
	} else {
		rec.Status = domain.StatusCompleted
		rec.Summary = &analysis.Result.Summary
		rec.Result = analysis.Document

		if cerr := w.cache.Set(ctx, cache.ResultKey(rec.LedgerDigest), analysis.Document, w.cfg.ResultTTL); cerr != nil {
			slog.Warn("failed to cache result",
				"analysis_id", rec.ID,
				"error", cerr,
			)
		}
	}

	// Archive outcome; use a fresh context so a timed-out run is still recorded
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if w.repo != nil {
		if uerr := w.repo.UpdateAnalysis(archiveCtx, rec); uerr != nil {
			slog.Error("failed to archive analysis",
				"analysis_id", rec.ID,
				"error", uerr,
			)
		}
	}

	w.publish(archiveCtx, rec)

	slog.Info("analysis processed",
		"analysis_id", rec.ID,
		"status", rec.Status,
		"error_kind", rec.ErrorKind,
		"duration_ms", w.now().Sub(start).Milliseconds(),
	)

	return err
}

func (w *Worker) analyze(ctx context.Context, rec *domain.AnalysisRecord) (*engine.Analysis, error) {
	data, err := os.ReadFile(rec.LedgerPath)
	if err != nil {
		return nil, domain.NewError(domain.KindInput, rec.LedgerPath, err)
	}
	rec.LedgerDigest = ingest.Digest(data)
	return w.analyzer.AnalyzeBytes(ctx, rec.LedgerPath, data)
}

// publish announces the outcome on the completed or failed topic.
func (w *Worker) publish(ctx context.Context, rec *domain.AnalysisRecord) {
	topic := domain.TopicAnalysisCompleted
	if rec.Status == domain.StatusFailed {
		topic = domain.TopicAnalysisFailed
	}

	payload, err := json.Marshal(domain.AnalysisEvent{
		AnalysisID:   rec.ID,
		LedgerDigest: rec.LedgerDigest,
		Status:       rec.Status,
		Summary:      rec.Summary,
		ErrorKind:    rec.ErrorKind,
		Error:        rec.Error,
	})
	if err != nil {
		slog.Error("failed to marshal analysis event",
			"analysis_id", rec.ID,
			"error", err,
		)
		return
	}

	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish analysis event",
			"analysis_id", rec.ID,
			"topic", topic,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker and waits for running analyses.
func (w *Worker) Stop() error {
	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.cancel()
	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Running           int      `json:"running"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Running:           len(w.sem),
	}
}
