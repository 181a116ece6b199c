package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/metrics"
	"github.com/lumora-ai/lumora/internal/rerank"
	"github.com/lumora-ai/lumora/internal/telemetry"
	"github.com/lumora-ai/lumora/internal/tokens"
)

// ChunkHit is one search result from the chunk store with its raw
// stage-local score (ts_rank for lexical, similarity for dense).
type ChunkHit struct {
	Chunk *domain.KnowledgeChunk
	Score float64
}

// ChunkSearcher is the store surface the retriever reads through.
type ChunkSearcher interface {
	SearchLexical(ctx context.Context, query, ownerID string, chunkType domain.ChunkType, limit int) ([]*ChunkHit, error)
	SearchDense(ctx context.Context, embedding []float32, ownerID string, chunkType domain.ChunkType, limit int) ([]*ChunkHit, error)
	SearchDenseTLDR(ctx context.Context, embedding []float32, ownerID string, chunkType domain.ChunkType, limit int) ([]*ChunkHit, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// FlagReader answers runtime flag checks with a safe default on failure.
type FlagReader interface {
	IsEnabled(ctx context.Context, key, subject string) bool
}

// Retrieval methods reported to callers and the retrieval log.
const (
	MethodHybrid     = "hybrid"
	MethodHybridRank = "hybrid_rerank"
	MethodSparseOnly = "sparse_only"
)

const (
	candidateMultiplier = 4
	minCandidates       = 20
	maxCandidates       = 200

	defaultTokenBudget = 3000
)

// RetrieverConfig carries the fusion and budgeting tunables.
type RetrieverConfig struct {
	RRFK           int
	SemanticWeight float64
	LexicalWeight  float64

	// TLDRWeight is the fusion weight of the summary-embedding leg that
	// runs when the pipeline rollout flag is on for the owner.
	TLDRWeight float64

	// DefaultTokenBudget bounds the returned context when the request does
	// not carry its own budget. Retrieval never returns unbounded output.
	DefaultTokenBudget int

	PipelineVersion string
}

// RetrieveInput is one retrieval request. It lives only for the duration of
// the call.
type RetrieveInput struct {
	Query       string
	OwnerID     string
	ChunkType   domain.ChunkType
	TopK        int
	TokenBudget int

	// Routing context, carried into the retrieval log when present.
	Intent         domain.Intent
	RulesetVersion int
}

// RetrievedChunk is one budgeted result with its final fused score.
type RetrievedChunk struct {
	Chunk  *domain.KnowledgeChunk
	Score  float64
	Tokens int
}

// RetrieveOutput is the budget-bounded context returned to the caller.
type RetrieveOutput struct {
	Chunks      []*RetrievedChunk
	TotalTokens int
	Method      string
	LatencyMs   int64
}

// RetrievalLogSink records retrieval outcomes for evaluation loops.
type RetrievalLogSink interface {
	CreateRetrievalLog(ctx context.Context, entry RetrievalLogEntry) (string, error)
}

// RetrieverService executes hybrid (sparse + dense) search, fuses the two
// ranked lists with RRF, boosts corrected content, optionally reranks, and
// truncates to a token budget. Ranking is fully deterministic for a given
// store state; the only randomness in the system lives in dispatch timing.
type RetrieverService struct {
	searcher ChunkSearcher
	embedder QueryEmbedder
	reranker rerank.Reranker
	flags    FlagReader
	counter  tokens.Counter
	metrics  *metrics.Metrics
	logs     RetrievalLogSink
	cfg      RetrieverConfig
}

func NewRetrieverService(
	searcher ChunkSearcher,
	embedder QueryEmbedder,
	reranker rerank.Reranker,
	flags FlagReader,
	counter tokens.Counter,
	m *metrics.Metrics,
	logs RetrievalLogSink,
	cfg RetrieverConfig,
) *RetrieverService {
	if cfg.RRFK <= 0 {
		cfg.RRFK = 60
	}
	if cfg.SemanticWeight <= 0 {
		cfg.SemanticWeight = 1.0
	}
	if cfg.LexicalWeight <= 0 {
		cfg.LexicalWeight = 0.85
	}
	if cfg.TLDRWeight <= 0 {
		cfg.TLDRWeight = 0.6
	}
	if cfg.DefaultTokenBudget <= 0 {
		cfg.DefaultTokenBudget = defaultTokenBudget
	}
	if reranker == nil {
		reranker = rerank.Passthrough{}
	}
	if counter == nil {
		counter = tokens.WordCounter{}
	}
	return &RetrieverService{
		searcher: searcher,
		embedder: embedder,
		reranker: reranker,
		flags:    flags,
		counter:  counter,
		metrics:  m,
		logs:     logs,
		cfg:      cfg,
	}
}

// Retrieve returns a ranked, token-budgeted chunk set for one partition.
func (s *RetrieverService) Retrieve(ctx context.Context, input RetrieveInput) (*RetrieveOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrieverService.Retrieve", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		ChunkType: string(input.ChunkType),
		Intent:    string(input.Intent),
		Operation: "retrieve",
	})
	defer span.End()

	started := time.Now()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if input.OwnerID == "" {
		return nil, domain.ErrMissingOwner
	}
	if !input.ChunkType.IsValid() {
		return nil, domain.ErrInvalidChunkType
	}
	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}
	budget := input.TokenBudget
	if budget <= 0 {
		budget = s.cfg.DefaultTokenBudget
	}

	candidateLimit := topK * candidateMultiplier
	if candidateLimit < minCandidates {
		candidateLimit = minCandidates
	}
	if candidateLimit > maxCandidates {
		candidateLimit = maxCandidates
	}

	method := MethodHybrid

	// Embedding the query is the only dense-side dependency; when it fails
	// retrieval degrades to sparse-only rather than failing the call.
	var embedding []float32
	if s.embedder != nil {
		var err error
		embedding, err = s.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			log.Printf("retriever: query embedding failed, falling back to sparse-only search: %v", err)
			s.metrics.RecordError("query_embedding", s.cfg.PipelineVersion)
			embedding = nil
		}
	}
	if embedding == nil {
		method = MethodSparseOnly
	}

	// The rollout flag switches the owner onto the summary-first pipeline:
	// an extra dense leg over the chunk summaries, fused at its own weight.
	summaryLeg := embedding != nil && s.flags != nil &&
		s.flags.IsEnabled(ctx, FlagPipelineRollout, input.OwnerID)

	var sparseHits, denseHits, summaryHits []*ChunkHit
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		legStart := time.Now()
		hits, err := s.searcher.SearchLexical(groupCtx, query, input.OwnerID, input.ChunkType, candidateLimit)
		if err != nil {
			return err
		}
		sparseHits = hits
		s.metrics.ObserveStage(metrics.StageSparse, s.cfg.PipelineVersion, time.Since(legStart), candidateLimit, len(hits))
		return nil
	})
	if embedding != nil {
		g.Go(func() error {
			legStart := time.Now()
			hits, err := s.searcher.SearchDense(groupCtx, embedding, input.OwnerID, input.ChunkType, candidateLimit)
			if err != nil {
				return err
			}
			denseHits = hits
			s.metrics.ObserveStage(metrics.StageDense, s.cfg.PipelineVersion, time.Since(legStart), candidateLimit, len(hits))
			return nil
		})
	}
	if summaryLeg {
		g.Go(func() error {
			legStart := time.Now()
			hits, err := s.searcher.SearchDenseTLDR(groupCtx, embedding, input.OwnerID, input.ChunkType, candidateLimit)
			if err != nil {
				return err
			}
			summaryHits = hits
			s.metrics.ObserveStage(metrics.StageDense, s.cfg.PipelineVersion, time.Since(legStart), candidateLimit, len(hits))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.metrics.RecordError("search", s.cfg.PipelineVersion)
		return nil, err
	}

	fusionStart := time.Now()
	fused := s.fuse(sparseHits, denseHits, summaryHits)
	s.metrics.ObserveStage(metrics.StageFusion, s.cfg.PipelineVersion, time.Since(fusionStart), len(sparseHits)+len(denseHits)+len(summaryHits), len(fused))

	reranked := false
	if len(fused) > 1 && s.rerankEnabled(ctx, input.OwnerID) {
		if s.applyRerank(ctx, query, fused) {
			reranked = true
			method = MethodHybridRank
		}
	}

	sortDeterministic(fused)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	budgetStart := time.Now()
	out := s.enforceBudget(fused, budget)
	s.metrics.ObserveStage(metrics.StageBudget, s.cfg.PipelineVersion, time.Since(budgetStart), len(fused), len(out.Chunks))

	out.Method = method
	out.LatencyMs = time.Since(started).Milliseconds()
	s.logRetrieval(ctx, input, out, len(sparseHits), len(denseHits), len(fused), reranked)
	return out, nil
}

// fuse combines the ranked lists with weighted Reciprocal Rank Fusion and
// applies the post-fusion priority boost. Iteration order is fixed (sparse,
// then dense, then the summary leg, each already rank-ordered) so the fused
// scores are reproducible. The summary list is empty unless the owner is in
// the pipeline rollout.
func (s *RetrieverService) fuse(sparse, dense, summary []*ChunkHit) []*RetrievedChunk {
	type fusedCandidate struct {
		chunk *domain.KnowledgeChunk
		score float64
	}

	candidates := make(map[string]*fusedCandidate)
	order := make([]string, 0, len(sparse)+len(dense)+len(summary))

	addList := func(hits []*ChunkHit, weight float64) {
		for rank, hit := range hits {
			if hit == nil || hit.Chunk == nil {
				continue
			}
			cand, ok := candidates[hit.Chunk.ID]
			if !ok {
				cand = &fusedCandidate{chunk: hit.Chunk}
				candidates[hit.Chunk.ID] = cand
				order = append(order, hit.Chunk.ID)
			}
			cand.score += weight / float64(s.cfg.RRFK+rank+1)
		}
	}
	addList(sparse, s.cfg.LexicalWeight)
	addList(dense, s.cfg.SemanticWeight)
	addList(summary, s.cfg.TLDRWeight)

	out := make([]*RetrievedChunk, 0, len(order))
	for _, id := range order {
		cand := candidates[id]
		score := cand.score
		if cand.chunk.Priority > domain.DefaultPriority {
			score *= cand.chunk.Priority
		}
		out = append(out, &RetrievedChunk{Chunk: cand.chunk, Score: score})
	}
	return out
}

func (s *RetrieverService) rerankEnabled(ctx context.Context, ownerID string) bool {
	if _, passthrough := s.reranker.(rerank.Passthrough); passthrough {
		return false
	}
	if s.flags == nil {
		return false
	}
	return s.flags.IsEnabled(ctx, FlagRerankEnabled, ownerID)
}

// applyRerank replaces fused scores with cross-encoder scores, reapplying
// the priority boost so corrected content keeps its guarantee. Any failure
// leaves the fused order untouched and counts a fallback.
func (s *RetrieverService) applyRerank(ctx context.Context, query string, fused []*RetrievedChunk) bool {
	rerankStart := time.Now()

	candidates := make([]rerank.Candidate, len(fused))
	byID := make(map[string]*RetrievedChunk, len(fused))
	for i, rc := range fused {
		text := rc.Chunk.TLDR
		if text == "" {
			text = rc.Chunk.Content
		}
		candidates[i] = rerank.Candidate{ID: rc.Chunk.ID, Text: text, Score: rc.Score}
		byID[rc.Chunk.ID] = rc
	}

	scored, err := s.reranker.Rerank(ctx, query, candidates)
	if err != nil || len(scored) != len(fused) {
		log.Printf("retriever: rerank failed, keeping fused order: %v", err)
		s.metrics.RecordRerankFallback(s.cfg.PipelineVersion)
		return false
	}

	for _, c := range scored {
		rc, ok := byID[c.ID]
		if !ok {
			s.metrics.RecordRerankFallback(s.cfg.PipelineVersion)
			return false
		}
		rc.Score = c.Score
		if rc.Chunk.Priority > domain.DefaultPriority {
			rc.Score *= rc.Chunk.Priority
		}
	}

	s.metrics.ObserveStage(metrics.StageRerank, s.cfg.PipelineVersion, time.Since(rerankStart), len(fused), len(scored))
	return true
}

// sortDeterministic orders candidates by score descending, breaking ties by
// higher priority, then shorter word count, then chunk ID.
func sortDeterministic(chunks []*RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].Chunk.Priority != chunks[j].Chunk.Priority {
			return chunks[i].Chunk.Priority > chunks[j].Chunk.Priority
		}
		if chunks[i].Chunk.WordCount != chunks[j].Chunk.WordCount {
			return chunks[i].Chunk.WordCount < chunks[j].Chunk.WordCount
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})
}

// enforceBudget accumulates chunks in rank order until the next one would
// exceed the token budget. Zero chunks fitting is a valid outcome, never an
// error. The caller always passes a positive budget; requests without one
// inherit DefaultTokenBudget.
func (s *RetrieverService) enforceBudget(ranked []*RetrievedChunk, budget int) *RetrieveOutput {
	out := &RetrieveOutput{Chunks: make([]*RetrievedChunk, 0, len(ranked))}
	for _, rc := range ranked {
		cost := s.counter.Count(rc.Chunk.Content)
		if out.TotalTokens+cost > budget {
			break
		}
		rc.Tokens = cost
		out.Chunks = append(out.Chunks, rc)
		out.TotalTokens += cost
	}
	return out
}

func (s *RetrieverService) logRetrieval(ctx context.Context, input RetrieveInput, out *RetrieveOutput, sparseCount, denseCount, fusedCount int, reranked bool) {
	if s.logs == nil {
		return
	}
	entry := RetrievalLogEntry{
		OwnerID:         input.OwnerID,
		Query:           input.Query,
		Intent:          input.Intent,
		RulesetVersion:  input.RulesetVersion,
		SparseCount:     sparseCount,
		DenseCount:      denseCount,
		FusedCount:      fusedCount,
		Reranked:        reranked,
		PipelineVersion: s.cfg.PipelineVersion,
		DurationMs:      out.LatencyMs,
	}
	for _, rc := range out.Chunks {
		entry.Results = append(entry.Results, RetrievalResultRef{ChunkID: rc.Chunk.ID, Score: rc.Score})
	}
	if _, err := s.logs.CreateRetrievalLog(ctx, entry); err != nil {
		log.Printf("retriever: failed to record retrieval log: %v", err)
	}
}
