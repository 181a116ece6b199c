package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumora-ai/lumora/internal/domain"
)

// IntentRuleRepository stores the versioned phrase-to-intent ruleset used by
// the query router. Only one version is active at a time; writing a new
// version leaves older ones in place for rollback.
type IntentRuleRepository struct {
	db dbtx
}

func NewIntentRuleRepository(pool *pgxpool.Pool) *IntentRuleRepository {
	return &IntentRuleRepository{db: pool}
}

// ActiveRules returns the rules of the highest version present, along with
// that version number.
func (r *IntentRuleRepository) ActiveRules(ctx context.Context) ([]domain.IntentRule, int, error) {
	var version int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM intent_rules`,
	).Scan(&version)
	if err != nil {
		return nil, 0, err
	}
	if version == 0 {
		return nil, 0, domain.ErrRulesetNotFound
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, version, phrase, intent, weight
		 FROM intent_rules WHERE version = $1 ORDER BY phrase`,
		version,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rules []domain.IntentRule
	for rows.Next() {
		var rule domain.IntentRule
		if err := rows.Scan(&rule.ID, &rule.Version, &rule.Phrase, &rule.Intent, &rule.Weight); err != nil {
			return nil, 0, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return rules, version, nil
}

// ReplaceRuleset writes the given rules as a fresh version and returns it.
func (r *IntentRuleRepository) ReplaceRuleset(ctx context.Context, rules []domain.IntentRule) (int, error) {
	if len(rules) == 0 {
		return 0, errors.New("ruleset cannot be empty")
	}

	var current int
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM intent_rules`).Scan(&current); err != nil {
		return 0, err
	}
	version := current + 1

	batch := &pgx.Batch{}
	for _, rule := range rules {
		id := rule.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch.Queue(
			`INSERT INTO intent_rules (id, version, phrase, intent, weight) VALUES ($1, $2, $3, $4, $5)`,
			id, version, rule.Phrase, rule.Intent, rule.Weight,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range rules {
		if _, err := results.Exec(); err != nil {
			return 0, err
		}
	}
	return version, nil
}
