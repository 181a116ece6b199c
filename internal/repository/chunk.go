package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/service"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository is the durable chunk store. It owns the uniqueness
// invariant over (owner_id, source_id, chunk_type, sequence_index).
type ChunkRepository struct {
	pool *pgxpool.Pool
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

const chunkInsertSQL = `INSERT INTO knowledge_chunks
	(id, owner_id, source_id, chunk_type, sequence_index, section_title, content, tldr,
	 word_count, language_tag, embedding, tldr_embedding, priority, user_corrected,
	 source_hash, metadata, created_at, updated_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

// BulkInsert writes all chunks of one source in a single transactional batch.
// This is the fast path for sources that have never been chunked; any
// uniqueness violation aborts the whole batch and surfaces as
// domain.ErrDuplicateChunk so the caller can fall back to UpsertEach.
func (r *ChunkRepository) BulkInsert(ctx context.Context, chunks []domain.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range chunks {
		args, err := chunkInsertArgs(&chunks[i])
		if err != nil {
			return err
		}
		batch.Queue(chunkInsertSQL, args...)
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %w", domain.ErrDuplicateChunk, err)
			}
			return err
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpsertEach is the insert-if-absent fallback: each chunk is written
// individually, and an existing row at the same sequence index is replaced
// only when its source hash differs (a stale chunk set from an earlier
// content revision) and the incoming row is at least as new. Rows already
// carrying the same hash are left untouched, so the loser of a same-content
// race never overwrites the winner, and a run started against an older
// source snapshot cannot clobber rows a newer run has already written.
// Returns the number of rows actually written.
func (r *ChunkRepository) UpsertEach(ctx context.Context, chunks []domain.KnowledgeChunk) (int, error) {
	written := 0
	for i := range chunks {
		args, err := chunkInsertArgs(&chunks[i])
		if err != nil {
			return written, err
		}
		tag, err := r.pool.Exec(ctx, chunkInsertSQL+`
			 ON CONFLICT (owner_id, source_id, chunk_type, sequence_index)
			 DO UPDATE SET
				section_title = EXCLUDED.section_title,
				content = EXCLUDED.content,
				tldr = EXCLUDED.tldr,
				word_count = EXCLUDED.word_count,
				language_tag = EXCLUDED.language_tag,
				embedding = EXCLUDED.embedding,
				tldr_embedding = EXCLUDED.tldr_embedding,
				priority = EXCLUDED.priority,
				user_corrected = EXCLUDED.user_corrected,
				source_hash = EXCLUDED.source_hash,
				metadata = EXCLUDED.metadata,
				updated_at = EXCLUDED.updated_at
			 WHERE knowledge_chunks.source_hash IS DISTINCT FROM EXCLUDED.source_hash
			   AND knowledge_chunks.updated_at <= EXCLUDED.updated_at`,
			args...,
		)
		if err != nil {
			return written, domain.NewDomainErrorWithCause(domain.ErrCodeConflict, "insert-if-absent fallback failed", err)
		}
		written += int(tag.RowsAffected())
	}
	return written, nil
}

// SourceHash returns the content hash recorded on the existing chunk set for
// (owner, source, type), or "" when no chunks exist.
func (r *ChunkRepository) SourceHash(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx,
		`SELECT source_hash FROM knowledge_chunks
		 WHERE owner_id = $1 AND source_id = $2 AND chunk_type = $3
		 ORDER BY updated_at DESC LIMIT 1`,
		ownerID, sourceID, chunkType,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// DeleteTail removes stale chunks whose sequence index is at or beyond the
// size of the new chunk set, after a source shrank on re-chunking.
func (r *ChunkRepository) DeleteTail(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType, fromIndex int) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM knowledge_chunks
		 WHERE owner_id = $1 AND source_id = $2 AND chunk_type = $3 AND sequence_index >= $4`,
		ownerID, sourceID, chunkType, fromIndex,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteBySource removes the whole chunk set for a deleted or emptied source.
func (r *ChunkRepository) DeleteBySource(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM knowledge_chunks
		 WHERE owner_id = $1 AND source_id = $2 AND chunk_type = $3`,
		ownerID, sourceID, chunkType,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountBySource returns the number of chunks stored for one source.
func (r *ChunkRepository) CountBySource(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_chunks
		 WHERE owner_id = $1 AND source_id = $2 AND chunk_type = $3`,
		ownerID, sourceID, chunkType,
	).Scan(&count)
	return count, err
}

// SearchLexical runs BM25-style full-text search over content and tldr. The
// 'simple' text search configuration keeps matching language-agnostic, which
// matters for non-Latin scripts.
func (r *ChunkRepository) SearchLexical(ctx context.Context, query, ownerID string, chunkType domain.ChunkType, limit int) ([]*service.ChunkHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+chunkColumns+`,
		        ts_rank(
		          to_tsvector('simple', coalesce(section_title, '') || ' ' || tldr || ' ' || content),
		          websearch_to_tsquery('simple', $1)
		        ) AS score
		 FROM knowledge_chunks
		 WHERE owner_id = $2 AND chunk_type = $3
		   AND to_tsvector('simple', coalesce(section_title, '') || ' ' || tldr || ' ' || content)
		       @@ websearch_to_tsquery('simple', $1)
		 ORDER BY score DESC, id ASC
		 LIMIT $4`,
		query, ownerID, chunkType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkHits(rows)
}

// SearchDense runs nearest-neighbor search over the full embeddings,
// returning similarity as 1/(1+distance).
func (r *ChunkRepository) SearchDense(ctx context.Context, embedding []float32, ownerID string, chunkType domain.ChunkType, limit int) ([]*service.ChunkHit, error) {
	if limit <= 0 {
		limit = 20
	}

	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx,
		`SELECT `+chunkColumns+`,
		        1.0 / (1.0 + (embedding <=> $1)) AS score
		 FROM knowledge_chunks
		 WHERE owner_id = $2 AND chunk_type = $3 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1, id ASC
		 LIMIT $4`,
		vec, ownerID, chunkType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkHits(rows)
}

// SearchDenseTLDR is the cheaper first-pass variant over summary embeddings.
func (r *ChunkRepository) SearchDenseTLDR(ctx context.Context, embedding []float32, ownerID string, chunkType domain.ChunkType, limit int) ([]*service.ChunkHit, error) {
	if limit <= 0 {
		limit = 20
	}

	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx,
		`SELECT `+chunkColumns+`,
		        1.0 / (1.0 + (tldr_embedding <=> $1)) AS score
		 FROM knowledge_chunks
		 WHERE owner_id = $2 AND chunk_type = $3 AND tldr_embedding IS NOT NULL
		 ORDER BY tldr_embedding <=> $1, id ASC
		 LIMIT $4`,
		vec, ownerID, chunkType, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkHits(rows)
}

const chunkColumns = `id, owner_id, source_id, chunk_type, sequence_index, section_title,
	content, tldr, word_count, language_tag, priority, user_corrected, source_hash,
	metadata, created_at, updated_at`

func scanChunkHits(rows pgx.Rows) ([]*service.ChunkHit, error) {
	var hits []*service.ChunkHit
	for rows.Next() {
		var c domain.KnowledgeChunk
		var sourceID, sectionTitle *string
		var metadataJSON []byte
		var score float64
		if err := rows.Scan(
			&c.ID, &c.OwnerID, &sourceID, &c.Type, &c.SequenceIndex, &sectionTitle,
			&c.Content, &c.TLDR, &c.WordCount, &c.Language, &c.Priority, &c.UserCorrected,
			&c.SourceHash, &metadataJSON, &c.CreatedAt, &c.UpdatedAt, &score,
		); err != nil {
			return nil, err
		}
		if sourceID != nil {
			c.SourceID = *sourceID
		}
		if sectionTitle != nil {
			c.SectionTitle = *sectionTitle
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
				return nil, err
			}
		}
		hits = append(hits, &service.ChunkHit{Chunk: &c, Score: score})
	}
	return hits, rows.Err()
}

func chunkInsertArgs(c *domain.KnowledgeChunk) ([]any, error) {
	if err := domain.ValidateChunk(c); err != nil {
		return nil, err
	}

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var metadataJSON []byte
	if len(c.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(c.Metadata)
		if err != nil {
			return nil, err
		}
	}

	return []any{
		id,
		c.OwnerID,
		nullableString(c.SourceID),
		c.Type,
		c.SequenceIndex,
		nullableString(c.SectionTitle),
		c.Content,
		c.TLDR,
		c.WordCount,
		c.Language,
		pgvector.NewVector(c.Embedding),
		pgvector.NewVector(c.TLDREmbedding),
		c.Priority,
		c.UserCorrected,
		c.SourceHash,
		metadataJSON,
		createdAt,
		updatedAt,
	}, nil
}
