package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/mulerift/internal/bus"
	"github.com/opensource-finance/mulerift/internal/cache"
	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/engine"
	"github.com/opensource-finance/mulerift/internal/repository"
)

const triangle = `transaction_id,sender_id,receiver_id,amount,timestamp
T1,A,B,100.00,2024-01-01 10:00:00
T2,B,C,95.00,2024-01-01 11:00:00
T3,C,A,90.00,2024-01-01 12:00:00
T4,D,E,10.00,2024-01-02 09:00:00
`

type testEnv struct {
	server *Server
	repo   domain.Repository
	cache  *cache.LRUCache
	bus    *bus.ChannelBus
	dir    string
}

// newTestEnv creates a server backed by a temp SQLite archive, an LRU
// cache and a channel bus.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(dir, "mulerift.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })

	analyzer, err := engine.New(domain.DefaultDetectionConfig(), domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("failed to create analyzer: %v", err)
	}

	results := cache.NewLRUCache(10)
	cfg := domain.ServerConfig{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     30,
		WriteTimeout:    30,
		AnalysisTimeout: 10 * time.Second,
		ResultTTL:       time.Minute,
		LedgerDir:       dir,
	}

	return &testEnv{
		server: NewServer(cfg, repo, results, eventBus, analyzer, "test-v1"),
		repo:   repo,
		cache:  results,
		bus:    eventBus,
		dir:    dir,
	}
}

func (e *testEnv) ledger(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}
	return path
}

func (e *testEnv) post(path string, body string) *httptest.ResponseRecorder {
	return postJSONTo(e.server, path, body)
}

func postJSONTo(server *Server, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func requestBody(path string) string {
	b, _ := json.Marshal(AnalysisRequest{LedgerPath: path})
	return string(b)
}

func TestAnalyzeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("SuccessfulAnalysis", func(t *testing.T) {
		rr := env.post("/analyses", requestBody(env.ledger(t, "ok.csv", triangle)))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.AnalysisResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if result.Summary.TotalAccountsAnalyzed != 5 {
			t.Errorf("expected 5 accounts, got %d", result.Summary.TotalAccountsAnalyzed)
		}
		if len(result.FraudRings) != 1 || result.FraudRings[0].PatternType != domain.RingCycle {
			t.Errorf("expected one cycle ring, got %+v", result.FraudRings)
		}

		id := rr.Header().Get(AnalysisIDHeader)
		if id == "" {
			t.Fatal("expected X-Analysis-ID header")
		}
		if len(rr.Header().Get(LedgerDigestHeader)) != 64 {
			t.Errorf("expected digest header, got '%s'", rr.Header().Get(LedgerDigestHeader))
		}

		rec, err := env.repo.GetAnalysis(context.Background(), id)
		if err != nil {
			t.Fatalf("analysis not archived: %v", err)
		}
		if rec.Status != domain.StatusCompleted {
			t.Errorf("expected completed, got %s", rec.Status)
		}
		if !bytes.Equal(rec.Result, rr.Body.Bytes()) {
			t.Error("archived result should equal response body")
		}
	})

	t.Run("CachedByDigest", func(t *testing.T) {
		path := env.ledger(t, "again.csv", triangle)
		first := env.post("/analyses", requestBody(path))
		second := env.post("/analyses", requestBody(path))

		if first.Code != http.StatusOK || second.Code != http.StatusOK {
			t.Fatalf("expected 200s, got %d and %d", first.Code, second.Code)
		}
		if first.Body.String() != second.Body.String() {
			t.Error("cached response should be identical")
		}
		if first.Header().Get(AnalysisIDHeader) == second.Header().Get(AnalysisIDHeader) {
			t.Error("each request should get its own analysis id")
		}

		doc, _ := env.cache.Get(context.Background(), cache.ResultKey(second.Header().Get(LedgerDigestHeader)))
		if doc == nil {
			t.Error("expected result in cache")
		}
	})

	t.Run("MissingLedger", func(t *testing.T) {
		rr := env.post("/analyses", requestBody(filepath.Join(env.dir, "missing.csv")))

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"error_kind":"input"`) {
			t.Errorf("expected input error kind, got %s", rr.Body.String())
		}

		rec, err := env.repo.GetAnalysis(context.Background(), rr.Header().Get(AnalysisIDHeader))
		if err != nil {
			t.Fatalf("failed analysis not archived: %v", err)
		}
		if rec.Status != domain.StatusFailed || rec.ErrorKind != domain.KindInput {
			t.Errorf("unexpected archived record: %+v", rec)
		}
	})

	t.Run("HeaderOnlyLedger", func(t *testing.T) {
		path := env.ledger(t, "empty.csv", "transaction_id,sender_id,receiver_id,amount,timestamp\n")
		rr := env.post("/analyses", requestBody(path))

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.post("/analyses", "not-json")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("WrongContentType", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyses", bytes.NewBufferString(requestBody("ok.csv")))
		req.Header.Set("Content-Type", "text/csv")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnsupportedMediaType {
			t.Errorf("expected status 415, got %d", rr.Code)
		}
	})

	t.Run("MissingLedgerPath", func(t *testing.T) {
		rr := env.post("/analyses", "{}")

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

type slowAnalyzer struct{}

func (slowAnalyzer) AnalyzeBytes(ctx context.Context, source string, data []byte) (*engine.Analysis, error) {
	<-ctx.Done()
	return nil, domain.NewError(domain.KindTimeout, source, ctx.Err())
}

type brokenAnalyzer struct{}

func (brokenAnalyzer) AnalyzeBytes(ctx context.Context, source string, data []byte) (*engine.Analysis, error) {
	return nil, domain.NewError(domain.KindSerialization, "", errors.New("ring risk mismatch"))
}

func TestLedgerDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.ledger(t, "inside.csv", triangle)

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.csv")
	if err := os.WriteFile(secret, []byte(triangle), 0o644); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}

	t.Run("RelativePathInside", func(t *testing.T) {
		rr := env.post("/analyses", requestBody("inside.csv"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	rejected := []struct {
		name string
		path string
	}{
		{"ParentTraversal", "../" + filepath.Base(outside) + "/secret.csv"},
		{"NestedTraversal", "sub/../../secret.csv"},
		{"AbsoluteOutside", secret},
		{"DirectoryItself", env.dir},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			for _, route := range []string{"/analyses", "/analyses/async"} {
				rr := env.post(route, requestBody(tt.path))
				if rr.Code != http.StatusForbidden {
					t.Errorf("%s: expected status 403, got %d: %s", route, rr.Code, rr.Body.String())
				}
				if strings.Contains(rr.Body.String(), "fraud_rings") {
					t.Errorf("%s: rejected request returned a result", route)
				}
				if rr.Header().Get(AnalysisIDHeader) != "" {
					t.Errorf("%s: rejected request should not be archived", route)
				}
			}
		})
	}

	t.Run("SymlinkEscape", func(t *testing.T) {
		link := filepath.Join(env.dir, "link.csv")
		if err := os.Symlink(secret, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		rr := env.post("/analyses", requestBody("link.csv"))
		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("NoDirectoryConfigured", func(t *testing.T) {
		server := NewServer(domain.ServerConfig{}, nil, nil, nil, slowAnalyzer{}, "test-v1")
		rr := postJSONTo(server, "/analyses", requestBody(secret))

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rr.Code)
		}
	})

	t.Run("MissingFileDoesNotLeakDetail", func(t *testing.T) {
		rr := env.post("/analyses", requestBody("missing.csv"))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d", rr.Code)
		}
		if strings.Contains(rr.Body.String(), "no such file") {
			t.Errorf("error body exposes OS detail: %s", rr.Body.String())
		}
	})
}

func TestAnalyzeErrorStatus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.csv")
	if err := os.WriteFile(path, []byte(triangle), 0o644); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}

	tests := []struct {
		name     string
		analyzer Analyzer
		want     int
	}{
		{"Timeout", slowAnalyzer{}, http.StatusGatewayTimeout},
		{"Serialization", brokenAnalyzer{}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.ServerConfig{AnalysisTimeout: 20 * time.Millisecond, LedgerDir: dir}
			server := NewServer(cfg, nil, nil, nil, tt.analyzer, "test-v1")

			rr := postJSONTo(server, "/analyses", requestBody(path))

			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAsyncAnalysis(t *testing.T) {
	env := newTestEnv(t)

	requested := make(chan domain.AnalysisRequest, 1)
	env.bus.Subscribe(context.Background(), domain.TopicAnalysisRequested, func(ctx context.Context, msg *domain.Message) error {
		var req domain.AnalysisRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return err
		}
		requested <- req
		return nil
	})

	t.Run("Accepted", func(t *testing.T) {
		rr := env.post("/analyses/async", requestBody(env.ledger(t, "async.csv", triangle)))

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp AcceptedResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Status != domain.StatusPending {
			t.Errorf("expected pending, got %s", resp.Status)
		}

		select {
		case req := <-requested:
			if req.AnalysisID != resp.AnalysisID {
				t.Errorf("expected request for %s, got %s", resp.AnalysisID, req.AnalysisID)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for analysis request")
		}

		get := env.get("/analyses/" + resp.AnalysisID)
		if get.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", get.Code)
		}
		var rec domain.AnalysisRecord
		if err := json.Unmarshal(get.Body.Bytes(), &rec); err != nil {
			t.Fatalf("failed to parse record: %v", err)
		}
		if rec.Status != domain.StatusPending {
			t.Errorf("expected pending record, got %s", rec.Status)
		}
	})

	t.Run("MissingLedger", func(t *testing.T) {
		rr := env.post("/analyses/async", requestBody(filepath.Join(env.dir, "missing.csv")))

		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", rr.Code)
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		server := NewServer(domain.ServerConfig{}, nil, nil, nil, nil, "test-v1")
		rr := postJSONTo(server, "/analyses/async", requestBody("x.csv"))

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestArchiveEndpoints(t *testing.T) {
	env := newTestEnv(t)
	path := env.ledger(t, "ledger.csv", triangle)
	for i := 0; i < 3; i++ {
		if rr := env.post("/analyses", requestBody(path)); rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	}

	t.Run("List", func(t *testing.T) {
		rr := env.get("/analyses?limit=2")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
			t.Errorf("archive listings should not be cached, got %q", rr.Header().Get("Cache-Control"))
		}

		var resp struct {
			Analyses []domain.AnalysisRecord `json:"analyses"`
			Count    int                     `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 2 || len(resp.Analyses) != 2 {
			t.Errorf("expected 2 analyses, got %d", resp.Count)
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		for _, q := range []string{"abc", "0", "-1"} {
			if rr := env.get("/analyses?limit=" + q); rr.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: expected status 400, got %d", q, rr.Code)
			}
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if rr := env.get("/analyses/does-not-exist"); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.get("/health")

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		if rr := env.get("/ready"); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyAfterBusClosed", func(t *testing.T) {
		env.bus.Close()

		rr := env.get("/ready")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "event_bus") {
			t.Errorf("expected event_bus failure, got %s", rr.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := env.get("/metrics")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "mulerift_api_http_requests_total") {
			t.Error("expected request counter in metrics output")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetTraceID(r.Context()) == "" {
				t.Error("expected trace ID in context")
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-123" {
			t.Errorf("expected request ID to be echoed, got %s", rr.Header().Get(RequestIDHeader))
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("preflight should not reach the handler")
		}))

		req := httptest.NewRequest(http.MethodOptions, "/analyses", nil)
		req.Header.Set("Origin", "https://example.org")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://example.org" {
			t.Errorf("unexpected allowed origin %s", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("RateLimit", func(t *testing.T) {
		handler := RateLimitMiddleware(domain.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
		)

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
			req.RemoteAddr = "10.0.0.1:5000"
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			codes = append(codes, rr.Code)
		}

		if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
			t.Errorf("expected burst of 2 to pass, got %v", codes)
		}
		if codes[2] != http.StatusTooManyRequests {
			t.Errorf("expected third request to be throttled, got %d", codes[2])
		}

		// Another client has its own bucket
		req := httptest.NewRequest(http.MethodGet, "/analyses", nil)
		req.RemoteAddr = "10.0.0.2:5000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected other client to pass, got %d", rr.Code)
		}
	})

	t.Run("RateLimitDisabled", func(t *testing.T) {
		handler := RateLimitMiddleware(domain.RateLimitConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		for i := 0; i < 5; i++ {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
		}
	})
}

func TestServerWriteTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.ServerConfig
		want time.Duration
	}{
		{"Configured", domain.ServerConfig{WriteTimeout: 120, AnalysisTimeout: 90 * time.Second}, 120 * time.Second},
		{"RaisedToAnalysis", domain.ServerConfig{WriteTimeout: 30, AnalysisTimeout: 90 * time.Second}, 95 * time.Second},
		{"Unbounded", domain.ServerConfig{AnalysisTimeout: 90 * time.Second}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := writeTimeout(tt.cfg); got != tt.want {
				t.Errorf("writeTimeout = %v, want %v", got, tt.want)
			}
		})
	}

	s := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 9999}, nil, nil, nil, nil, "test-v1")
	if s.http.Addr != "127.0.0.1:9999" {
		t.Errorf("unexpected listen address %s", s.http.Addr)
	}
	if s.http.ReadHeaderTimeout != readHeaderTimeout {
		t.Errorf("expected read header timeout %v, got %v", readHeaderTimeout, s.http.ReadHeaderTimeout)
	}
}
