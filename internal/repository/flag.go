package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumora-ai/lumora/internal/domain"
)

// FlagRepository persists feature flags. Flags are externally owned runtime
// state; the service layer caches reads with a short TTL.
type FlagRepository struct {
	db dbtx
}

func NewFlagRepository(pool *pgxpool.Pool) *FlagRepository {
	return &FlagRepository{db: pool}
}

func (r *FlagRepository) Get(ctx context.Context, key string) (*domain.FeatureFlag, error) {
	var f domain.FeatureFlag
	err := r.db.QueryRow(ctx,
		`SELECT key, enabled, rollout, expires_at, updated_at FROM feature_flags WHERE key = $1`,
		key,
	).Scan(&f.Key, &f.Enabled, &f.Rollout, &f.ExpiresAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrFlagNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *FlagRepository) Set(ctx context.Context, f *domain.FeatureFlag) error {
	if f.Key == "" {
		return domain.ErrMissingRequiredField
	}
	f.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO feature_flags (key, enabled, rollout, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			rollout = EXCLUDED.rollout,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		f.Key, f.Enabled, f.Rollout, f.ExpiresAt, f.UpdatedAt,
	)
	return err
}

func (r *FlagRepository) List(ctx context.Context) ([]*domain.FeatureFlag, error) {
	rows, err := r.db.Query(ctx,
		`SELECT key, enabled, rollout, expires_at, updated_at FROM feature_flags ORDER BY key`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []*domain.FeatureFlag
	for rows.Next() {
		var f domain.FeatureFlag
		if err := rows.Scan(&f.Key, &f.Enabled, &f.Rollout, &f.ExpiresAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}
