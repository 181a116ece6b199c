//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumora-ai/lumora/internal/api/handlers"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/jobs"
	"github.com/lumora-ai/lumora/internal/metrics"
	"github.com/lumora-ai/lumora/internal/repository"
	"github.com/lumora-ai/lumora/internal/server"
	"github.com/lumora-ai/lumora/internal/service"
	"github.com/lumora-ai/lumora/internal/testutil"
	"github.com/lumora-ai/lumora/internal/tokens"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with a database container
// and an in-process server. Embeddings come from a deterministic local
// embedder so tests never need an API key.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path, ownerID string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, ownerID)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}, ownerID string) (*APIResponse, error) {
	return e.doRequest("POST", path, body, ownerID)
}

// Put performs a PUT request
func (e *E2ETestEnv) Put(path string, body interface{}, ownerID string) (*APIResponse, error) {
	return e.doRequest("PUT", path, body, ownerID)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, ownerID string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if ownerID != "" {
		req.Header.Set("X-Owner-ID", ownerID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// localEmbedder produces deterministic bag-of-words embeddings: each word
// hashes to a dimension, so texts sharing words land near each other in
// cosine space. Good enough to exercise the dense leg end to end.
type localEmbedder struct{}

func (localEmbedder) embed(text string) []float32 {
	vec := make([]float32, domain.EmbeddingDimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(domain.EmbeddingDimensions)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

func (le localEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	return le.embed(text), nil
}

func (le localEmbedder) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = le.embed(t)
	}
	return out, nil
}

// startServer starts the HTTP server with the full pipeline wired to the
// test database and the local embedder.
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	chunkRepo := repository.NewChunkRepository(pool)
	sourceRepo := repository.NewSourceRepository(pool)
	dispatchRepo := repository.NewDispatchRepository(pool)
	flagRepo := repository.NewFlagRepository(pool)
	ruleRepo := repository.NewIntentRuleRepository(pool)
	logRepo := repository.NewRetrievalLogRepository(pool)

	m := metrics.New()
	embedder := localEmbedder{}

	sourceSvc := service.NewSourceService(sourceRepo, nil)
	flagSvc := service.NewFlagService(flagRepo, 0, time.Second)
	routerSvc := service.NewRouterService(ruleRepo, m, service.RouterConfig{})
	chunkerSvc := service.NewChunkerService(chunkRepo, sourceSvc, embedder, m, service.ChunkerConfig{})
	retrieverSvc := service.NewRetrieverService(chunkRepo, embedder, nil, flagSvc, tokens.WordCounter{}, m, logRepo, service.RetrieverConfig{})

	dispatcher := jobs.NewDispatcher(dispatchRepo, jobs.DispatcherConfig{
		MinDelay: 0,
		MaxDelay: time.Millisecond,
		Spacing:  time.Millisecond,
	})

	cfg := server.RouterConfig{
		ChunkHandler:    handlers.NewChunkHandler(chunkerSvc, sourceSvc, dispatcher),
		RetrieveHandler: handlers.NewRetrieveHandler(retrieverSvc, routerSvc),
		FlagHandler:     handlers.NewFlagHandler(flagSvc),
		MetricsHandler:  m.Handler(),
	}

	router := server.NewRouter(cfg)
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL)

	closer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}

	return serverURL, closer
}

func waitForServer(t *testing.T, url string) {
	client := &http.Client{Timeout: time.Second}
	for i := 0; i < 50; i++ {
		resp, err := client.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("server did not become ready")
}

func getFreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
