package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lumora-ai/lumora/internal/api"
	"github.com/lumora-ai/lumora/internal/domain"
)

type FlagService interface {
	Get(ctx context.Context, key string) (*domain.FeatureFlag, error)
	Set(ctx context.Context, f *domain.FeatureFlag) error
	List(ctx context.Context) ([]*domain.FeatureFlag, error)
}

// FlagHandler exposes the operational flag surface.
type FlagHandler struct {
	svc FlagService
}

func NewFlagHandler(svc FlagService) *FlagHandler {
	return &FlagHandler{svc: svc}
}

type FlagResponse struct {
	Key       string  `json:"key"`
	Enabled   bool    `json:"enabled"`
	Rollout   float64 `json:"rollout"`
	ExpiresAt string  `json:"expires_at,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

func flagToResponse(f *domain.FeatureFlag) FlagResponse {
	resp := FlagResponse{
		Key:       f.Key,
		Enabled:   f.Enabled,
		Rollout:   f.Rollout,
		UpdatedAt: f.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if f.ExpiresAt != nil {
		resp.ExpiresAt = f.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *FlagHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	flag, err := h.svc.Get(r.Context(), key)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, flagToResponse(flag))
}

func (h *FlagHandler) List(w http.ResponseWriter, r *http.Request) {
	flags, err := h.svc.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]FlagResponse, 0, len(flags))
	for _, f := range flags {
		out = append(out, flagToResponse(f))
	}
	api.Success(w, http.StatusOK, out)
}

type SetFlagRequest struct {
	Enabled   bool    `json:"enabled"`
	Rollout   float64 `json:"rollout"`
	ExpiresAt string  `json:"expires_at,omitempty"`
}

func (h *FlagHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		api.Error(w, http.StatusBadRequest, "flag key is required")
		return
	}

	var req SetFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flag := &domain.FeatureFlag{
		Key:     key,
		Enabled: req.Enabled,
		Rollout: req.Rollout,
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "expires_at must be RFC3339")
			return
		}
		flag.ExpiresAt = &expires
	}

	if err := h.svc.Set(r.Context(), flag); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, flagToResponse(flag))
}
