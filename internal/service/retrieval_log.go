package service

import "github.com/lumora-ai/lumora/internal/domain"

// RetrievalResultRef identifies one returned chunk in a retrieval log.
type RetrievalResultRef struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// RetrievalLogEntry is the per-retrieval record written for evaluation and
// A/B comparison across pipeline versions.
type RetrievalLogEntry struct {
	OwnerID         string
	Query           string
	Intent          domain.Intent
	RulesetVersion  int
	SparseCount     int
	DenseCount      int
	FusedCount      int
	Reranked        bool
	PipelineVersion string
	Results         []RetrievalResultRef
	DurationMs      int64
}
