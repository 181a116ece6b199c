package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lumora-ai/lumora/internal/api"
	"github.com/lumora-ai/lumora/internal/api/middleware"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/jobs"
	"github.com/lumora-ai/lumora/internal/service"
)

type ChunkerService interface {
	ChunkSource(ctx context.Context, sourceID, ownerID string, chunkType domain.ChunkType) (*service.ChunkReport, error)
}

type SourceService interface {
	Ingest(ctx context.Context, input service.IngestInput) (*domain.SourceDocument, error)
	Delete(ctx context.Context, sourceID string) error
}

type ChunkDispatcher interface {
	DispatchChunk(ctx context.Context, sources []jobs.SourceRef) error
}

// ChunkHandler exposes the chunking side of the pipeline: direct chunking,
// source ingest, and throttled dispatch.
type ChunkHandler struct {
	chunker    ChunkerService
	sources    SourceService
	dispatcher ChunkDispatcher
}

func NewChunkHandler(chunker ChunkerService, sources SourceService, dispatcher ChunkDispatcher) *ChunkHandler {
	return &ChunkHandler{chunker: chunker, sources: sources, dispatcher: dispatcher}
}

type ChunkRequest struct {
	SourceID  string `json:"source_id"`
	ChunkType string `json:"chunk_type"`
}

// Chunk runs ChunkSource synchronously for one source.
func (h *ChunkHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req ChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceID == "" {
		api.Error(w, http.StatusBadRequest, "source_id is required")
		return
	}
	chunkType, err := domain.ParseChunkType(req.ChunkType)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid chunk type")
		return
	}

	report, err := h.chunker.ChunkSource(r.Context(), req.SourceID, ownerID, chunkType)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, report)
}

type IngestSourceRequest struct {
	SourceID      string `json:"source_id"`
	ChunkType     string `json:"chunk_type"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	Language      string `json:"language"`
	UserCorrected bool   `json:"user_corrected"`
	Dispatch      bool   `json:"dispatch"`
}

type IngestSourceResponse struct {
	SourceID    string `json:"source_id"`
	ContentHash string `json:"content_hash"`
	Dispatched  bool   `json:"dispatched"`
}

// IngestSource stores a source document and optionally enqueues a throttled
// chunk job for it.
func (h *ChunkHandler) IngestSource(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	var req IngestSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		api.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	chunkType, err := domain.ParseChunkType(req.ChunkType)
	if err != nil {
		api.Error(w, http.StatusBadRequest, "invalid chunk type")
		return
	}

	doc, err := h.sources.Ingest(r.Context(), service.IngestInput{
		SourceID:      req.SourceID,
		OwnerID:       ownerID,
		Type:          chunkType,
		Title:         req.Title,
		Body:          req.Body,
		Language:      req.Language,
		UserCorrected: req.UserCorrected,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	dispatched := false
	if req.Dispatch && h.dispatcher != nil {
		ref := jobs.SourceRef{SourceID: doc.ID, OwnerID: ownerID, Type: chunkType}
		if err := h.dispatcher.DispatchChunk(r.Context(), []jobs.SourceRef{ref}); err != nil {
			api.HandleError(w, err)
			return
		}
		dispatched = true
	}

	api.Success(w, http.StatusCreated, IngestSourceResponse{
		SourceID:    doc.ID,
		ContentHash: doc.ContentHash,
		Dispatched:  dispatched,
	})
}
