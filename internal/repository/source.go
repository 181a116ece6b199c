package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumora-ai/lumora/internal/domain"
)

// SourceRepository persists source documents: crawled pages, manual prompts,
// FAQ entries, and product records awaiting chunking.
type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func (r *SourceRepository) Create(ctx context.Context, s *domain.SourceDocument) error {
	if err := domain.ValidateSource(s); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO source_documents
			(id, owner_id, chunk_type, title, body, body_location, content_hash, language_tag, user_corrected, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.OwnerID, s.Type, s.Title, s.Body, nullableString(s.BodyLocation),
		s.ContentHash, s.Language, s.UserCorrected, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.SourceDocument, error) {
	var s domain.SourceDocument
	var bodyLocation *string
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, chunk_type, title, body, body_location, content_hash, language_tag, user_corrected, created_at, updated_at
		 FROM source_documents WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.OwnerID, &s.Type, &s.Title, &s.Body, &bodyLocation,
		&s.ContentHash, &s.Language, &s.UserCorrected, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	if bodyLocation != nil {
		s.BodyLocation = *bodyLocation
	}
	return &s, nil
}

func (r *SourceRepository) Update(ctx context.Context, s *domain.SourceDocument) error {
	s.UpdatedAt = time.Now().UTC()
	tag, err := r.db.Exec(ctx,
		`UPDATE source_documents
		 SET title = $1, body = $2, body_location = $3, content_hash = $4, language_tag = $5, user_corrected = $6, updated_at = $7
		 WHERE id = $8`,
		s.Title, s.Body, nullableString(s.BodyLocation), s.ContentHash, s.Language, s.UserCorrected, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

func (r *SourceRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM source_documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSourceNotFound
	}
	return nil
}

// ListByOwner returns all documents of an owner, most recently updated first.
func (r *SourceRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.SourceDocument, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, chunk_type, title, body, body_location, content_hash, language_tag, user_corrected, created_at, updated_at
		 FROM source_documents WHERE owner_id = $1 ORDER BY updated_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.SourceDocument
	for rows.Next() {
		var s domain.SourceDocument
		var bodyLocation *string
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Type, &s.Title, &s.Body, &bodyLocation,
			&s.ContentHash, &s.Language, &s.UserCorrected, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if bodyLocation != nil {
			s.BodyLocation = *bodyLocation
		}
		results = append(results, &s)
	}
	return results, rows.Err()
}
