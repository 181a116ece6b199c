package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumora-ai/lumora/internal/service"
)

// RetrievalLogRepository stores retrieval logs for evaluation/feedback loops.
type RetrievalLogRepository struct {
	pool *pgxpool.Pool
}

func NewRetrievalLogRepository(pool *pgxpool.Pool) *RetrievalLogRepository {
	return &RetrievalLogRepository{pool: pool}
}

func (r *RetrievalLogRepository) CreateRetrievalLog(ctx context.Context, entry service.RetrievalLogEntry) (string, error) {
	details := map[string]any{
		"query_length":     len(entry.Query),
		"sparse_count":     entry.SparseCount,
		"dense_count":      entry.DenseCount,
		"fused_count":      entry.FusedCount,
		"reranked":         entry.Reranked,
		"pipeline_version": entry.PipelineVersion,
	}
	detailsJSON, _ := json.Marshal(details)
	resultsJSON, _ := json.Marshal(entry.Results)

	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO retrieval_logs (owner_id, query, intent, ruleset_version, details, results, result_count, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		entry.OwnerID,
		entry.Query,
		string(entry.Intent),
		entry.RulesetVersion,
		detailsJSON,
		resultsJSON,
		len(entry.Results),
		entry.DurationMs,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}
