package domain

import (
	"strings"
	"time"
)

// ChunkType identifies the knowledge partition a chunk belongs to.
type ChunkType string

const (
	ChunkTypeWebsite ChunkType = "website"
	ChunkTypeManual  ChunkType = "manual"
	ChunkTypeFAQ     ChunkType = "faq"
	ChunkTypeProduct ChunkType = "product"
)

// DefaultPriority is the ranking multiplier for ordinary content.
const DefaultPriority = 1.0

// EmbeddingDimensions is the expected length of chunk embedding vectors.
const EmbeddingDimensions = 1536

// ParseChunkType normalizes and validates a chunk type string.
func ParseChunkType(s string) (ChunkType, error) {
	switch ChunkType(strings.ToLower(strings.TrimSpace(s))) {
	case ChunkTypeWebsite:
		return ChunkTypeWebsite, nil
	case ChunkTypeManual:
		return ChunkTypeManual, nil
	case ChunkTypeFAQ:
		return ChunkTypeFAQ, nil
	case ChunkTypeProduct:
		return ChunkTypeProduct, nil
	}
	return "", ErrInvalidChunkType
}

// IsValid reports whether the chunk type is one of the known partitions.
func (t ChunkType) IsValid() bool {
	switch t {
	case ChunkTypeWebsite, ChunkTypeManual, ChunkTypeFAQ, ChunkTypeProduct:
		return true
	}
	return false
}

// KnowledgeChunk is the atomic unit of retrieval: a bounded section of a
// source document plus its summary and embeddings.
type KnowledgeChunk struct {
	ID            string
	OwnerID       string
	SourceID      string // empty when the chunk has no originating document
	Type          ChunkType
	SequenceIndex int

	SectionTitle string
	Content      string
	TLDR         string
	WordCount    int
	Language     string

	Embedding     []float32
	TLDREmbedding []float32

	Priority      float64
	UserCorrected bool
	SourceHash    string
	Metadata      map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateChunk checks the invariants a chunk must satisfy before it is
// written to the store.
func ValidateChunk(c *KnowledgeChunk) error {
	if c == nil {
		return ErrMissingRequiredField
	}
	if c.OwnerID == "" {
		return ErrMissingOwner
	}
	if !c.Type.IsValid() {
		return ErrInvalidChunkType
	}
	if c.SequenceIndex < 0 {
		return NewDomainError(ErrCodeValidation, "chunk sequence index cannot be negative")
	}
	if strings.TrimSpace(c.Content) == "" {
		return NewDomainError(ErrCodeValidation, "chunk content cannot be empty")
	}
	if c.Priority <= 0 {
		return NewDomainError(ErrCodeValidation, "chunk priority must be positive")
	}
	return nil
}
