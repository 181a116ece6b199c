package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceDocument is the read-only input the chunker consumes: a crawled page,
// a manually authored prompt, an FAQ entry, or a product record. The chunker
// identifies a document by its ID and content hash only.
type SourceDocument struct {
	ID            string
	OwnerID       string
	Type          ChunkType
	Title         string
	Body          string
	BodyLocation  string // object key when the body is archived externally
	ContentHash   string
	Language      string
	UserCorrected bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HashContent computes the content hash used for change detection.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ValidateSource checks that a document is well-formed enough to chunk.
func ValidateSource(s *SourceDocument) error {
	if s == nil {
		return ErrSourceNotFound
	}
	if s.ID == "" {
		return NewDomainError(ErrCodeValidation, "source document ID is required")
	}
	if s.OwnerID == "" {
		return ErrMissingOwner
	}
	if !s.Type.IsValid() {
		return ErrInvalidChunkType
	}
	return nil
}
