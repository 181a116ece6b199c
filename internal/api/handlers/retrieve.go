package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lumora-ai/lumora/internal/api"
	"github.com/lumora-ai/lumora/internal/api/middleware"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/service"
)

type RetrieverService interface {
	Retrieve(ctx context.Context, input service.RetrieveInput) (*service.RetrieveOutput, error)
}

type RouterService interface {
	Route(ctx context.Context, query, ownerID string) (*domain.RoutingDecision, error)
}

// RetrieveHandler exposes hybrid retrieval and query routing.
type RetrieveHandler struct {
	retriever RetrieverService
	router    RouterService
}

func NewRetrieveHandler(retriever RetrieverService, router RouterService) *RetrieveHandler {
	return &RetrieveHandler{retriever: retriever, router: router}
}

type RetrieveRequest struct {
	Query       string `json:"query"`
	ChunkType   string `json:"chunk_type"`
	TopK        int    `json:"top_k"`
	TokenBudget int    `json:"token_budget"`
}

type RetrievedChunkResponse struct {
	ID            string  `json:"id"`
	SourceID      string  `json:"source_id,omitempty"`
	ChunkType     string  `json:"chunk_type"`
	SequenceIndex int     `json:"sequence_index"`
	SectionTitle  string  `json:"section_title,omitempty"`
	Content       string  `json:"content"`
	TLDR          string  `json:"tldr"`
	Score         float64 `json:"score"`
	Priority      float64 `json:"priority"`
	UserCorrected bool    `json:"user_corrected"`
	Tokens        int     `json:"tokens"`
}

type RetrieveResponse struct {
	Chunks      []RetrievedChunkResponse `json:"chunks"`
	TotalTokens int                      `json:"total_tokens"`
	Method      string                   `json:"retrieval_method"`
	LatencyMs   int64                    `json:"latency_ms"`
}

// Retrieve returns a token-budgeted ranked chunk set for one partition.
func (h *RetrieveHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	chunkType, err := domain.ParseChunkType(req.ChunkType)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid chunk type")
		return
	}

	out, err := h.retriever.Retrieve(r.Context(), service.RetrieveInput{
		Query:       req.Query,
		OwnerID:     ownerID,
		ChunkType:   chunkType,
		TopK:        req.TopK,
		TokenBudget: req.TokenBudget,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, retrieveToResponse(out))
}

func retrieveToResponse(out *service.RetrieveOutput) RetrieveResponse {
	resp := RetrieveResponse{
		Chunks:      make([]RetrievedChunkResponse, 0, len(out.Chunks)),
		TotalTokens: out.TotalTokens,
		Method:      out.Method,
		LatencyMs:   out.LatencyMs,
	}
	for _, rc := range out.Chunks {
		resp.Chunks = append(resp.Chunks, RetrievedChunkResponse{
			ID:            rc.Chunk.ID,
			SourceID:      rc.Chunk.SourceID,
			ChunkType:     string(rc.Chunk.Type),
			SequenceIndex: rc.Chunk.SequenceIndex,
			SectionTitle:  rc.Chunk.SectionTitle,
			Content:       rc.Chunk.Content,
			TLDR:          rc.Chunk.TLDR,
			Score:         rc.Score,
			Priority:      rc.Chunk.Priority,
			UserCorrected: rc.Chunk.UserCorrected,
			Tokens:        rc.Tokens,
		})
	}
	return resp
}

type RouteRequest struct {
	Query string `json:"query"`
}

type RouteResponse struct {
	Intent         string         `json:"intent"`
	Confidence     float64        `json:"confidence"`
	RulesetVersion int            `json:"ruleset_version"`
	Primary        string         `json:"primary_source"`
	Secondary      []string       `json:"secondary_sources"`
	Budgets        map[string]int `json:"budgets"`
}

// Route classifies a query and returns the partition plan for it.
func (h *RetrieveHandler) Route(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	decision, err := h.router.Route(r.Context(), req.Query, ownerID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := RouteResponse{
		Intent:         string(decision.Intent),
		Confidence:     decision.Confidence,
		RulesetVersion: decision.RulesetVersion,
		Primary:        string(decision.Primary),
		Secondary:      make([]string, 0, len(decision.Secondary)),
		Budgets:        make(map[string]int, len(decision.Budgets)),
	}
	for _, t := range decision.Secondary {
		resp.Secondary = append(resp.Secondary, string(t))
	}
	for t, b := range decision.Budgets {
		resp.Budgets[string(t)] = b
	}

	api.Success(w, http.StatusOK, resp)
}
