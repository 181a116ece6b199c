package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/lumora/internal/api/handlers"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/jobs"
	"github.com/lumora-ai/lumora/internal/service"
)

type MockChunkerService struct {
	mock.Mock
}

func (m *MockChunkerService) ChunkSource(ctx context.Context, sourceID, ownerID string, chunkType domain.ChunkType) (*service.ChunkReport, error) {
	args := m.Called(ctx, sourceID, ownerID, chunkType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ChunkReport), args.Error(1)
}

type MockSourceService struct {
	mock.Mock
}

func (m *MockSourceService) Ingest(ctx context.Context, input service.IngestInput) (*domain.SourceDocument, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SourceDocument), args.Error(1)
}

func (m *MockSourceService) Delete(ctx context.Context, sourceID string) error {
	args := m.Called(ctx, sourceID)
	return args.Error(0)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) DispatchChunk(ctx context.Context, sources []jobs.SourceRef) error {
	args := m.Called(ctx, sources)
	return args.Error(0)
}

type MockRetrieverService struct {
	mock.Mock
}

func (m *MockRetrieverService) Retrieve(ctx context.Context, input service.RetrieveInput) (*service.RetrieveOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RetrieveOutput), args.Error(1)
}

type MockRouterService struct {
	mock.Mock
}

func (m *MockRouterService) Route(ctx context.Context, query, ownerID string) (*domain.RoutingDecision, error) {
	args := m.Called(ctx, query, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoutingDecision), args.Error(1)
}

type MockFlagService struct {
	mock.Mock
}

func (m *MockFlagService) Get(ctx context.Context, key string) (*domain.FeatureFlag, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FeatureFlag), args.Error(1)
}

func (m *MockFlagService) Set(ctx context.Context, f *domain.FeatureFlag) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFlagService) List(ctx context.Context) ([]*domain.FeatureFlag, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FeatureFlag), args.Error(1)
}

type routerMocks struct {
	chunker    *MockChunkerService
	sources    *MockSourceService
	dispatcher *MockDispatcher
	retriever  *MockRetrieverService
	router     *MockRouterService
	flags      *MockFlagService
}

func newTestRouter() (http.Handler, *routerMocks) {
	m := &routerMocks{
		chunker:    new(MockChunkerService),
		sources:    new(MockSourceService),
		dispatcher: new(MockDispatcher),
		retriever:  new(MockRetrieverService),
		router:     new(MockRouterService),
		flags:      new(MockFlagService),
	}

	r := NewRouter(RouterConfig{
		ChunkHandler:    handlers.NewChunkHandler(m.chunker, m.sources, m.dispatcher),
		RetrieveHandler: handlers.NewRetrieveHandler(m.retriever, m.router),
		FlagHandler:     handlers.NewFlagHandler(m.flags),
	})
	return r, m
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Data["status"])
}

func TestRetrieveRequiresOwnerHeader(t *testing.T) {
	r, _ := newTestRouter()

	body := bytes.NewBufferString(`{"query":"hours","chunk_type":"faq"}`)
	req := httptest.NewRequest(http.MethodPost, "/retrieve", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveEndpoint(t *testing.T) {
	r, m := newTestRouter()

	out := &service.RetrieveOutput{
		Chunks: []*service.RetrievedChunk{
			{
				Chunk: &domain.KnowledgeChunk{
					ID:       "chunk-1",
					OwnerID:  "owner-1",
					Type:     domain.ChunkTypeFAQ,
					Content:  "We are open 9 to 5.",
					Priority: domain.DefaultPriority,
				},
				Score:  0.12,
				Tokens: 7,
			},
		},
		TotalTokens: 7,
		Method:      service.MethodHybrid,
	}
	m.retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(in service.RetrieveInput) bool {
		return in.OwnerID == "owner-1" && in.ChunkType == domain.ChunkTypeFAQ
	})).Return(out, nil)

	body := bytes.NewBufferString(`{"query":"opening hours","chunk_type":"faq","top_k":5}`)
	req := httptest.NewRequest(http.MethodPost, "/retrieve", body)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data handlers.RetrieveResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Chunks, 1)
	assert.Equal(t, "chunk-1", resp.Data.Chunks[0].ID)
	assert.Equal(t, service.MethodHybrid, resp.Data.Method)
	assert.Equal(t, 7, resp.Data.TotalTokens)

	m.retriever.AssertExpectations(t)
}

func TestRetrieveRejectsInvalidChunkType(t *testing.T) {
	r, _ := newTestRouter()

	body := bytes.NewBufferString(`{"query":"hello","chunk_type":"blog"}`)
	req := httptest.NewRequest(http.MethodPost, "/retrieve", body)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteEndpoint(t *testing.T) {
	r, m := newTestRouter()

	decision := &domain.RoutingDecision{
		Intent:         domain.IntentContact,
		Confidence:     0.75,
		RulesetVersion: 3,
		Primary:        domain.ChunkTypeManual,
		Secondary:      []domain.ChunkType{domain.ChunkTypeFAQ, domain.ChunkTypeWebsite},
		Budgets: map[domain.ChunkType]int{
			domain.ChunkTypeManual:  1800,
			domain.ChunkTypeFAQ:     600,
			domain.ChunkTypeWebsite: 600,
		},
	}
	m.router.On("Route", mock.Anything, "where is your office", "owner-1").Return(decision, nil)

	body := bytes.NewBufferString(`{"query":"where is your office"}`)
	req := httptest.NewRequest(http.MethodPost, "/route", body)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data handlers.RouteResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "contact", resp.Data.Intent)
	assert.Equal(t, "manual", resp.Data.Primary)
	assert.Equal(t, 3, resp.Data.RulesetVersion)

	total := 0
	for _, b := range resp.Data.Budgets {
		total += b
	}
	assert.Equal(t, 3000, total)

	m.router.AssertExpectations(t)
}

func TestChunkEndpoint(t *testing.T) {
	r, m := newTestRouter()

	report := &service.ChunkReport{ChunksCreated: 4}
	m.chunker.On("ChunkSource", mock.Anything, "src-1", "owner-1", domain.ChunkTypeWebsite).Return(report, nil)

	body := bytes.NewBufferString(`{"source_id":"src-1","chunk_type":"website"}`)
	req := httptest.NewRequest(http.MethodPost, "/chunk", body)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data service.ChunkReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Data.ChunksCreated)

	m.chunker.AssertExpectations(t)
}

func TestChunkSourceNotFound(t *testing.T) {
	r, m := newTestRouter()

	m.chunker.On("ChunkSource", mock.Anything, "missing", "owner-1", domain.ChunkTypeFAQ).
		Return(nil, domain.ErrSourceNotFound)

	body := bytes.NewBufferString(`{"source_id":"missing","chunk_type":"faq"}`)
	req := httptest.NewRequest(http.MethodPost, "/chunk", body)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlagsListEndpoint(t *testing.T) {
	r, m := newTestRouter()

	m.flags.On("List", mock.Anything).Return([]*domain.FeatureFlag{
		{Key: "rerank_enabled", Enabled: true, Rollout: 100},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/flags/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []handlers.FlagResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "rerank_enabled", resp.Data[0].Key)
	assert.True(t, resp.Data[0].Enabled)

	m.flags.AssertExpectations(t)
}

func TestMetricsEndpointAbsentWithoutHandler(t *testing.T) {
	r, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
