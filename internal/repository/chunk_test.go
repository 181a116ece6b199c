//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/testutil"
)

// unitVector returns a 1536-dim unit vector pointing along the given axis, so
// cosine distance between different axes is maximal and tests can predict
// nearest-neighbor order exactly.
func unitVector(axis int) []float32 {
	v := make([]float32, domain.EmbeddingDimensions)
	v[axis%domain.EmbeddingDimensions] = 1
	return v
}

func testChunkSet(ownerID, sourceID string, n int, hash string) []domain.KnowledgeChunk {
	now := time.Now().UTC().Truncate(time.Microsecond)
	chunks := make([]domain.KnowledgeChunk, n)
	for i := range chunks {
		chunks[i] = domain.KnowledgeChunk{
			ID:            uuid.NewString(),
			OwnerID:       ownerID,
			SourceID:      sourceID,
			Type:          domain.ChunkTypeFAQ,
			SequenceIndex: i,
			SectionTitle:  "Section",
			Content:       "shipping takes three to five business days",
			TLDR:          "shipping time",
			WordCount:     7,
			Language:      "en",
			Embedding:     unitVector(i),
			TLDREmbedding: unitVector(i),
			Priority:      domain.DefaultPriority,
			SourceHash:    hash,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return chunks
}

func TestChunkRepository_BulkInsert(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 3, "hash-a")))

	count, err := repo.CountBySource(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hash, err := repo.SourceHash(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, "hash-a", hash)
}

func TestChunkRepository_BulkInsert_ConflictAbortsBatch(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 1, "hash-a")))

	// The second run collides on sequence_index 0; the whole batch must roll
	// back, leaving the later indexes unwritten.
	err := repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 3, "hash-b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateChunk)

	count, err := repo.CountBySource(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hash, err := repo.SourceHash(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, "hash-a", hash)
}

func TestChunkRepository_UpsertEach_SameHashIsNoOp(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	chunks := testChunkSet("owner-1", sourceID, 2, "hash-a")
	require.NoError(t, repo.BulkInsert(ctx, chunks))

	// A same-content race loser must not overwrite the winner's rows.
	rerun := testChunkSet("owner-1", sourceID, 2, "hash-a")
	rerun[0].Content = "the loser's different rendering of the same source"
	written, err := repo.UpsertEach(ctx, rerun)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	hits, err := repo.SearchLexical(ctx, "shipping", "owner-1", domain.ChunkTypeFAQ, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestChunkRepository_UpsertEach_NewHashOverwrites(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 2, "hash-a")))

	updated := testChunkSet("owner-1", sourceID, 3, "hash-b")
	for i := range updated {
		updated[i].Content = "refunds are issued within seven days"
		updated[i].TLDR = "refund policy"
	}
	written, err := repo.UpsertEach(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	hash, err := repo.SourceHash(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, "hash-b", hash)

	hits, err := repo.SearchLexical(ctx, "refunds", "owner-1", domain.ChunkTypeFAQ, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestChunkRepository_UpsertEach_StaleRunCannotOverwrite(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 2, "hash-b")))

	// A run that started against an older source snapshot carries older
	// timestamps; even though its hash differs, it must not clobber the
	// rows the newer run already wrote.
	stale := testChunkSet("owner-1", sourceID, 2, "hash-a")
	for i := range stale {
		stale[i].Content = "outdated shipping terms from a previous revision"
		stale[i].UpdatedAt = stale[i].UpdatedAt.Add(-time.Hour)
	}
	written, err := repo.UpsertEach(ctx, stale)
	require.NoError(t, err)
	assert.Zero(t, written)

	hash, err := repo.SourceHash(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, "hash-b", hash)
}

func TestChunkRepository_DeleteTail(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 5, "hash-a")))

	deleted, err := repo.DeleteTail(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	count, err := repo.CountBySource(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChunkRepository_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()
	otherSource := uuid.NewString()

	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", sourceID, 3, "hash-a")))
	require.NoError(t, repo.BulkInsert(ctx, testChunkSet("owner-1", otherSource, 2, "hash-c")))

	deleted, err := repo.DeleteBySource(ctx, "owner-1", sourceID, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	count, err := repo.CountBySource(ctx, "owner-1", otherSource, domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestChunkRepository_SourceHash_Empty(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)

	hash, err := repo.SourceHash(ctx, "owner-1", uuid.NewString(), domain.ChunkTypeFAQ)
	require.NoError(t, err)
	assert.Equal(t, "", hash)
}

func TestChunkRepository_SearchLexical_ScopedByOwnerAndType(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)

	mine := testChunkSet("owner-1", uuid.NewString(), 1, "hash-a")
	theirs := testChunkSet("owner-2", uuid.NewString(), 1, "hash-b")
	manual := testChunkSet("owner-1", uuid.NewString(), 1, "hash-c")
	manual[0].Type = domain.ChunkTypeManual
	require.NoError(t, repo.BulkInsert(ctx, mine))
	require.NoError(t, repo.BulkInsert(ctx, theirs))
	require.NoError(t, repo.BulkInsert(ctx, manual))

	hits, err := repo.SearchLexical(ctx, "shipping", "owner-1", domain.ChunkTypeFAQ, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, mine[0].ID, hits[0].Chunk.ID)
	assert.Equal(t, "owner-1", hits[0].Chunk.OwnerID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestChunkRepository_SearchLexical_Persian(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	chunks := testChunkSet("owner-1", sourceID, 1, "hash-a")
	chunks[0].Content = "ساعت کاری فروشگاه از نه صبح تا شش عصر است"
	chunks[0].TLDR = "ساعت کاری"
	chunks[0].Language = "fa"
	require.NoError(t, repo.BulkInsert(ctx, chunks))

	hits, err := repo.SearchLexical(ctx, "ساعت کاری", "owner-1", domain.ChunkTypeFAQ, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunks[0].ID, hits[0].Chunk.ID)
}

func TestChunkRepository_SearchDense_NearestFirst(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	chunks := testChunkSet("owner-1", sourceID, 3, "hash-a")
	require.NoError(t, repo.BulkInsert(ctx, chunks))

	// Querying with axis 1 must return the chunk embedded on axis 1 first.
	hits, err := repo.SearchDense(ctx, unitVector(1), "owner-1", domain.ChunkTypeFAQ, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, chunks[1].ID, hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChunkRepository_SearchDenseTLDR(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewChunkRepository(pool)
	sourceID := uuid.NewString()

	chunks := testChunkSet("owner-1", sourceID, 2, "hash-a")
	require.NoError(t, repo.BulkInsert(ctx, chunks))

	hits, err := repo.SearchDenseTLDR(ctx, unitVector(0), "owner-1", domain.ChunkTypeFAQ, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, chunks[0].ID, hits[0].Chunk.ID)
}
