package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/metrics"
	"github.com/lumora-ai/lumora/internal/telemetry"
)

// ChunkStore is the repository surface the chunker writes through.
type ChunkStore interface {
	BulkInsert(ctx context.Context, chunks []domain.KnowledgeChunk) error
	UpsertEach(ctx context.Context, chunks []domain.KnowledgeChunk) (int, error)
	SourceHash(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType) (string, error)
	DeleteTail(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType, fromIndex int) (int, error)
	DeleteBySource(ctx context.Context, ownerID, sourceID string, chunkType domain.ChunkType) (int, error)
}

// SourceFeed supplies the read-only documents the chunker consumes.
type SourceFeed interface {
	GetChangedSource(ctx context.Context, sourceID string) (*domain.SourceDocument, error)
}

// Embedder turns texts into fixed-length dense vectors.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkerConfig carries the chunking tunables.
type ChunkerConfig struct {
	MaxSectionWords   int
	TLDRMaxWords      int
	CorrectedPriority float64
	PipelineVersion   string
}

// ChunkReport is the outcome of one ChunkSource call.
type ChunkReport struct {
	ChunksCreated int      `json:"chunks_created"`
	ChunksSkipped int      `json:"chunks_skipped"`
	ChunksDeleted int      `json:"chunks_deleted"`
	Errors        []string `json:"errors,omitempty"`
}

// ChunkerService incrementally converts source documents into indexed
// knowledge chunks. Calls are idempotent by content hash and safe to re-run
// concurrently: the store's uniqueness constraint arbitrates races.
type ChunkerService struct {
	store    ChunkStore
	feed     SourceFeed
	embedder Embedder
	metrics  *metrics.Metrics
	uuidGen  UUIDGenerator
	cfg      ChunkerConfig
}

func NewChunkerService(store ChunkStore, feed SourceFeed, embedder Embedder, m *metrics.Metrics, cfg ChunkerConfig) *ChunkerService {
	if cfg.MaxSectionWords <= 0 {
		cfg.MaxSectionWords = defaultMaxSectionWords
	}
	if cfg.TLDRMaxWords <= 0 {
		cfg.TLDRMaxWords = defaultTLDRMaxWords
	}
	if cfg.CorrectedPriority <= 1 {
		cfg.CorrectedPriority = 10
	}
	return &ChunkerService{
		store:    store,
		feed:     feed,
		embedder: embedder,
		metrics:  m,
		uuidGen:  &DefaultUUIDGenerator{},
		cfg:      cfg,
	}
}

// NewChunkerServiceWithUUIDGen creates a ChunkerService with a custom UUID
// generator (for testing).
func NewChunkerServiceWithUUIDGen(store ChunkStore, feed SourceFeed, embedder Embedder, m *metrics.Metrics, cfg ChunkerConfig, uuidGen UUIDGenerator) *ChunkerService {
	s := NewChunkerService(store, feed, embedder, m, cfg)
	s.uuidGen = uuidGen
	return s
}

// ChunkSource (re)chunks a single source document for one partition.
//
// An unchanged content hash is a no-op. Embedding failure aborts the whole
// batch before any write, so no chunk is ever stored without its vectors.
// A bulk-insert conflict means a parallel run raced ahead; the fallback
// writes row by row with insert-if-absent semantics so non-conflicting rows
// still land and newer content is never overwritten by older.
func (s *ChunkerService) ChunkSource(ctx context.Context, sourceID, ownerID string, chunkType domain.ChunkType) (*ChunkReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChunkerService.ChunkSource", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		SourceID:  sourceID,
		ChunkType: string(chunkType),
		Operation: "chunk",
	})
	defer span.End()

	started := time.Now()

	if !chunkType.IsValid() {
		return nil, domain.ErrInvalidChunkType
	}
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}

	src, err := s.feed.GetChangedSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateSource(src); err != nil {
		return nil, err
	}
	if src.OwnerID != ownerID {
		return nil, domain.ErrOwnerMismatch
	}

	contentHash := src.ContentHash
	if contentHash == "" {
		contentHash = domain.HashContent(src.Body)
	}

	existingHash, err := s.store.SourceHash(ctx, ownerID, sourceID, chunkType)
	if err != nil {
		return nil, err
	}
	if existingHash != "" && existingHash == contentHash {
		s.observe(metrics.StageChunk, started, 0, 0)
		s.metrics.RecordSourceSkipped(string(chunkType), s.cfg.PipelineVersion)
		return &ChunkReport{}, nil
	}

	sections := SplitSections(src.Body, s.cfg.MaxSectionWords)
	if len(sections) == 0 {
		// Nothing extractable: drop whatever an earlier revision left behind.
		deleted, err := s.store.DeleteBySource(ctx, ownerID, sourceID, chunkType)
		if err != nil {
			return nil, err
		}
		s.observe(metrics.StageChunk, started, 0, 0)
		return &ChunkReport{ChunksDeleted: deleted}, nil
	}

	chunks, err := s.buildChunks(ctx, src, sections, chunkType, contentHash)
	if err != nil {
		s.metrics.RecordError("embedding", s.cfg.PipelineVersion)
		return nil, err
	}

	report := &ChunkReport{}
	if err := s.store.BulkInsert(ctx, chunks); err != nil {
		if !errors.Is(err, domain.ErrDuplicateChunk) {
			return nil, err
		}
		// A parallel run for this source got there first.
		written, upsertErr := s.store.UpsertEach(ctx, chunks)
		report.ChunksCreated = written
		report.ChunksSkipped = len(chunks) - written
		if upsertErr != nil {
			report.Errors = append(report.Errors, upsertErr.Error())
			return report, upsertErr
		}
		log.Printf("chunker: bulk insert conflict for source=%s type=%s, fallback wrote %d of %d rows",
			sourceID, chunkType, written, len(chunks))
	} else {
		report.ChunksCreated = len(chunks)
	}

	deleted, err := s.store.DeleteTail(ctx, ownerID, sourceID, chunkType, len(chunks))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("stale tail cleanup: %v", err))
	} else {
		report.ChunksDeleted = deleted
	}

	s.observe(metrics.StageChunk, started, len(sections), report.ChunksCreated)
	s.metrics.RecordChunksCreated(string(chunkType), s.cfg.PipelineVersion, report.ChunksCreated)
	return report, nil
}

// buildChunks sections the document, summarizes each section, and embeds
// everything in one batched call (full texts first, then summaries).
func (s *ChunkerService) buildChunks(ctx context.Context, src *domain.SourceDocument, sections []Section, chunkType domain.ChunkType, contentHash string) ([]domain.KnowledgeChunk, error) {
	embedStart := time.Now()

	texts := make([]string, 0, len(sections)*2)
	for _, section := range sections {
		texts = append(texts, section.Text)
	}
	tldrs := make([]string, len(sections))
	for i, section := range sections {
		tldrs[i] = BuildTLDR(section.Text, s.cfg.TLDRMaxWords)
		if tldrs[i] == "" {
			tldrs[i] = section.Text
		}
		texts = append(texts, tldrs[i])
	}

	if s.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	embeddings, err := s.embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, domain.ErrEmbeddingUnavailable
	}
	s.observe(metrics.StageEmbed, embedStart, len(texts), len(embeddings))

	priority := domain.DefaultPriority
	if src.UserCorrected {
		priority = s.cfg.CorrectedPriority
	}

	now := time.Now().UTC()
	chunks := make([]domain.KnowledgeChunk, len(sections))
	for i, section := range sections {
		chunks[i] = domain.KnowledgeChunk{
			ID:            s.uuidGen.NewString(),
			OwnerID:       src.OwnerID,
			SourceID:      src.ID,
			Type:          chunkType,
			SequenceIndex: i,
			SectionTitle:  section.Title,
			Content:       section.Text,
			TLDR:          tldrs[i],
			WordCount:     section.WordCount,
			Language:      src.Language,
			Embedding:     embeddings[i],
			TLDREmbedding: embeddings[len(sections)+i],
			Priority:      priority,
			UserCorrected: src.UserCorrected,
			SourceHash:    contentHash,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}
	return chunks, nil
}

func (s *ChunkerService) observe(stage string, started time.Time, in, out int) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveStage(stage, s.cfg.PipelineVersion, time.Since(started), in, out)
}
