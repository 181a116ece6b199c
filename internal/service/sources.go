package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/telemetry"
)

// SourceStore persists source documents.
type SourceStore interface {
	Create(ctx context.Context, s *domain.SourceDocument) error
	GetByID(ctx context.Context, id string) (*domain.SourceDocument, error)
	Update(ctx context.Context, s *domain.SourceDocument) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.SourceDocument, error)
}

// SnapshotStore archives large document bodies outside the database.
type SnapshotStore interface {
	Put(ctx context.Context, key, body string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// inlineBodyLimit is the size above which a crawled body is archived in the
// snapshot store instead of living inline in the row.
const inlineBodyLimit = 64 * 1024

// IngestInput describes a new or updated source document.
type IngestInput struct {
	SourceID      string
	OwnerID       string
	Type          domain.ChunkType
	Title         string
	Body          string
	Language      string
	UserCorrected bool
}

// SourceService owns the source-document side of the pipeline: ingest,
// snapshot archival, and the read-only feed the chunker consumes.
type SourceService struct {
	sources   SourceStore
	snapshots SnapshotStore
	uuidGen   UUIDGenerator
}

func NewSourceService(sources SourceStore, snapshots SnapshotStore) *SourceService {
	return &SourceService{
		sources:   sources,
		snapshots: snapshots,
		uuidGen:   &DefaultUUIDGenerator{},
	}
}

// Ingest stores a source document, archiving oversized bodies in the
// snapshot store. Re-ingesting an existing document updates it in place; the
// content hash makes the downstream chunking idempotent either way.
func (s *SourceService) Ingest(ctx context.Context, input IngestInput) (*domain.SourceDocument, error) {
	ctx, span := telemetry.StartSpan(ctx, "SourceService.Ingest", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		SourceID:  input.SourceID,
		ChunkType: string(input.Type),
		Operation: "ingest",
	})
	defer span.End()

	if input.OwnerID == "" {
		return nil, domain.ErrMissingOwner
	}
	if !input.Type.IsValid() {
		return nil, domain.ErrInvalidChunkType
	}

	now := time.Now().UTC()
	doc := &domain.SourceDocument{
		ID:            input.SourceID,
		OwnerID:       input.OwnerID,
		Type:          input.Type,
		Title:         input.Title,
		Body:          input.Body,
		ContentHash:   domain.HashContent(input.Body),
		Language:      input.Language,
		UserCorrected: input.UserCorrected,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if doc.ID == "" {
		doc.ID = s.uuidGen.NewString()
	}

	if len(doc.Body) > inlineBodyLimit && s.snapshots != nil {
		key := fmt.Sprintf("sources/%s/%s/%s", doc.OwnerID, doc.ID, doc.ContentHash)
		if err := s.snapshots.Put(ctx, key, doc.Body); err != nil {
			return nil, err
		}
		doc.BodyLocation = key
		doc.Body = ""
	}

	existing, err := s.sources.GetByID(ctx, doc.ID)
	switch {
	case err == nil:
		if existing.OwnerID != doc.OwnerID {
			return nil, domain.ErrOwnerMismatch
		}
		doc.CreatedAt = existing.CreatedAt
		if err := s.sources.Update(ctx, doc); err != nil {
			return nil, err
		}
	case errorsIsNotFound(err):
		if err := s.sources.Create(ctx, doc); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return doc, nil
}

// GetChangedSource implements the source feed the chunker consumes. Archived
// bodies are resolved from the snapshot store transparently.
func (s *SourceService) GetChangedSource(ctx context.Context, sourceID string) (*domain.SourceDocument, error) {
	doc, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if doc.Body == "" && doc.BodyLocation != "" {
		if s.snapshots == nil {
			return nil, domain.NewDomainError(domain.ErrCodeDependency, "source body is archived but no snapshot store is configured")
		}
		body, err := s.snapshots.Get(ctx, doc.BodyLocation)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeDependency, "failed to resolve archived source body", err)
		}
		doc.Body = body
	}
	return doc, nil
}

// Delete removes a source document and its archived body.
func (s *SourceService) Delete(ctx context.Context, sourceID string) error {
	doc, err := s.sources.GetByID(ctx, sourceID)
	if err != nil {
		return err
	}
	if doc.BodyLocation != "" && s.snapshots != nil {
		if err := s.snapshots.Delete(ctx, doc.BodyLocation); err != nil {
			return err
		}
	}
	return s.sources.Delete(ctx, sourceID)
}

// ListByOwner returns an owner's documents.
func (s *SourceService) ListByOwner(ctx context.Context, ownerID string) ([]*domain.SourceDocument, error) {
	return s.sources.ListByOwner(ctx, ownerID)
}

func errorsIsNotFound(err error) bool {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == domain.ErrCodeNotFound
	}
	return false
}
