package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/mulerift/internal/cache"
	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/engine"
	"github.com/opensource-finance/mulerift/internal/ingest"
	"github.com/opensource-finance/mulerift/internal/repository"
)

const (
	// AnalysisIDHeader carries the archive id of a synchronous analysis.
	AnalysisIDHeader = "X-Analysis-ID"

	// LedgerDigestHeader carries the SHA-256 of the analyzed ledger.
	LedgerDigestHeader = "X-Ledger-Digest"

	maxRequestBody = 1 << 20
)

// Analyzer runs one analysis over an in-memory ledger.
type Analyzer interface {
	AnalyzeBytes(ctx context.Context, source string, data []byte) (*engine.Analysis, error)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	analyzer Analyzer
	cfg      domain.ServerConfig
	version  string

	ledgerRoots []string
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(cfg domain.ServerConfig, repo domain.Repository, c domain.Cache, bus domain.EventBus, analyzer Analyzer, version string) *Handler {
	if c == nil {
		c = cache.Noop{}
	}
	return &Handler{
		repo:     repo,
		cache:    c,
		bus:      bus,
		analyzer: analyzer,
		cfg:      cfg,
		version:  version,

		ledgerRoots: ledgerRoots(cfg.LedgerDir),
	}
}

// AnalysisRequest is the request body for POST /analyses.
type AnalysisRequest struct {
	LedgerPath string `json:"ledger_path"`
}

// AcceptedResponse is the response for POST /analyses/async.
type AcceptedResponse struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// Analyze handles POST /analyses. The response body is the result
// document exactly as the engine produced it.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	path, ok := h.ledgerPath(w, req)
	if !ok {
		return
	}

	ctx := r.Context()
	if h.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.AnalysisTimeout)
		defer cancel()
	}

	rec := &domain.AnalysisRecord{
		ID:         uuid.New().String(),
		LedgerPath: path,
		CreatedAt:  time.Now().UTC(),
	}
	w.Header().Set(AnalysisIDHeader, rec.ID)

	doc, err := h.run(ctx, rec)
	completed := time.Now().UTC()
	rec.CompletedAt = &completed

	if err != nil {
		kind := domain.ArchiveKind(err)
		analysesTotal.WithLabelValues(string(kind)).Inc()

		rec.Status = domain.StatusFailed
		rec.ErrorKind = kind
		rec.Error = err.Error()
		h.archive(rec)

		slog.Error("analysis failed",
			"analysis_id", rec.ID,
			"ledger_path", rec.LedgerPath,
			"error_kind", kind,
			"error", err,
		)
		writeJSON(w, statusForKind(kind), map[string]string{
			"analysis_id": rec.ID,
			"error_kind":  string(kind),
			"error":       err.Error(),
		})
		return
	}

	rec.Status = domain.StatusCompleted
	rec.Result = doc
	h.archive(rec)

	w.Header().Set(LedgerDigestHeader, rec.LedgerDigest)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// run reads the ledger and answers from the result cache or the engine.
func (h *Handler) run(ctx context.Context, rec *domain.AnalysisRecord) ([]byte, error) {
	data, err := os.ReadFile(rec.LedgerPath)
	if err != nil {
		slog.Warn("ledger read failed", "analysis_id", rec.ID, "error", err)
		return nil, domain.NewError(domain.KindInput, rec.LedgerPath, errLedgerUnreadable)
	}
	rec.LedgerDigest = ingest.Digest(data)
	key := cache.ResultKey(rec.LedgerDigest)

	if doc, err := h.cache.Get(ctx, key); err == nil && doc != nil {
		if summary, err := summaryOf(doc); err == nil {
			resultCacheHits.Inc()
			analysesTotal.WithLabelValues("cached").Inc()
			rec.Summary = summary
			return doc, nil
		}
	}

	start := time.Now()
	analysis, err := h.analyzer.AnalyzeBytes(ctx, rec.LedgerPath, data)
	if err != nil {
		return nil, err
	}
	analysisDuration.Observe(time.Since(start).Seconds())
	analysesTotal.WithLabelValues(domain.StatusCompleted).Inc()
	if analysis.Degraded {
		degradedRunsTotal.Inc()
	}

	rec.Summary = &analysis.Result.Summary
	if err := h.cache.Set(ctx, key, analysis.Document, h.resultTTL()); err != nil {
		slog.Warn("failed to cache result",
			"analysis_id", rec.ID,
			"error", err,
		)
	}
	return analysis.Document, nil
}

// AnalyzeAsync handles POST /analyses/async.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	path, ok := h.ledgerPath(w, req)
	if !ok {
		return
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error_kind": string(domain.KindInput),
			"error":      errLedgerUnreadable.Error(),
		})
		return
	}

	ctx := r.Context()
	rec := &domain.AnalysisRecord{
		ID:         uuid.New().String(),
		LedgerPath: path,
		Status:     domain.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if h.repo != nil {
		if err := h.repo.SaveAnalysis(ctx, rec); err != nil {
			slog.Error("failed to save analysis", "analysis_id", rec.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to record analysis",
			})
			return
		}
	}

	payload, _ := json.Marshal(domain.AnalysisRequest{
		AnalysisID: rec.ID,
		LedgerPath: rec.LedgerPath,
	})
	if err := h.bus.Publish(ctx, domain.TopicAnalysisRequested, payload); err != nil {
		slog.Error("failed to publish analysis request", "analysis_id", rec.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue analysis",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		AnalysisID: rec.ID,
		Status:     rec.Status,
	})
}

// ledgerPath resolves the requested ledger, writing a 403 when it lies
// outside the ledger directory.
func (h *Handler) ledgerPath(w http.ResponseWriter, req AnalysisRequest) (string, bool) {
	path, err := h.resolveLedger(req.LedgerPath)
	if err != nil {
		slog.Warn("ledger path rejected", "ledger_path", req.LedgerPath, "error", err)
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error_kind": string(domain.KindInput),
			"error":      err.Error(),
		})
		return "", false
	}
	return path, true
}

// GetAnalysis retrieves an archived analysis by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetAnalysis(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "analysis not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get analysis", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load analysis",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListAnalyses returns the most recent archived analyses.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	recs, err := h.repo.ListAnalyses(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list analyses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list analyses",
		})
		return
	}
	if recs == nil {
		recs = []*domain.AnalysisRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": recs,
		"count":    len(recs),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if len(h.ping(r.Context())) > 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if failed := h.ping(r.Context()); len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"ready":  false,
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready": true,
	})
}

// ping checks every backing component and returns the failing ones.
func (h *Handler) ping(ctx context.Context) map[string]string {
	failed := make(map[string]string)

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			failed["repository"] = err.Error()
		}
	}

	// Check cache health
	if err := h.cache.Ping(ctx); err != nil {
		failed["cache"] = err.Error()
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			failed["event_bus"] = err.Error()
		}
	}

	return failed
}

// archive records the outcome. Archive failures never change the response.
func (h *Handler) archive(rec *domain.AnalysisRecord) {
	if h.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.repo.SaveAnalysis(ctx, rec); err != nil {
		slog.Error("failed to archive analysis",
			"analysis_id", rec.ID,
			"error", err,
		)
	}
}

func (h *Handler) resultTTL() time.Duration {
	if h.cfg.ResultTTL > 0 {
		return h.cfg.ResultTTL
	}
	return time.Hour
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (AnalysisRequest, bool) {
	var req AnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return req, false
	}
	if req.LedgerPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ledger_path is required",
		})
		return req, false
	}
	return req, true
}

// summaryOf extracts the summary block of a result document.
func summaryOf(doc []byte) (*domain.Summary, error) {
	var head struct {
		Summary *domain.Summary `json:"summary"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return nil, err
	}
	if head.Summary == nil {
		return nil, errors.New("document has no summary")
	}
	return head.Summary, nil
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInput:
		return http.StatusUnprocessableEntity
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
