package service

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lumora-ai/lumora/internal/domain"
	"github.com/lumora-ai/lumora/internal/metrics"
	"github.com/lumora-ai/lumora/internal/telemetry"
)

// RulesetStore loads the active phrase-to-intent ruleset.
type RulesetStore interface {
	ActiveRules(ctx context.Context) ([]domain.IntentRule, int, error)
}

// RouterConfig carries the budgeting and caching tunables.
type RouterConfig struct {
	TotalBudget     int
	PrimaryShare    float64
	CacheSize       int
	CacheTTL        time.Duration
	PipelineVersion string
}

// partitionPreference maps an intent to its ordered partition preference.
// Contact questions live in manually authored prompts, catalog browsing in
// product records, support questions in the FAQ.
var partitionPreference = map[domain.Intent][]domain.ChunkType{
	domain.IntentContact: {domain.ChunkTypeManual, domain.ChunkTypeFAQ, domain.ChunkTypeWebsite},
	domain.IntentCatalog: {domain.ChunkTypeProduct, domain.ChunkTypeFAQ, domain.ChunkTypeWebsite},
	domain.IntentSupport: {domain.ChunkTypeFAQ, domain.ChunkTypeManual, domain.ChunkTypeWebsite},
	domain.IntentGeneral: {domain.ChunkTypeWebsite, domain.ChunkTypeFAQ, domain.ChunkTypeManual},
}

type compiledRuleset struct {
	version int
	rules   []compiledRule
}

type compiledRule struct {
	phrase string
	intent domain.Intent
	weight float64
}

const rulesetCacheKey = "active"

// RouterService classifies a query into an intent using the versioned
// ruleset and turns it into a routing decision: primary partition, ordered
// secondaries, and per-partition token budgets that sum to the total.
type RouterService struct {
	rulesets RulesetStore
	metrics  *metrics.Metrics
	cache    *expirable.LRU[string, *compiledRuleset]
	cfg      RouterConfig
}

func NewRouterService(rulesets RulesetStore, m *metrics.Metrics, cfg RouterConfig) *RouterService {
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = 3000
	}
	if cfg.PrimaryShare <= 0 || cfg.PrimaryShare > 1 {
		cfg.PrimaryShare = 0.6
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 8
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RouterService{
		rulesets: rulesets,
		metrics:  m,
		cache:    expirable.NewLRU[string, *compiledRuleset](cacheSize, nil, ttl),
		cfg:      cfg,
	}
}

// Route classifies the query and allocates per-partition budgets.
func (s *RouterService) Route(ctx context.Context, query, ownerID string) (*domain.RoutingDecision, error) {
	ctx, span := telemetry.StartSpan(ctx, "RouterService.Route", telemetry.SpanAttributes{
		OwnerID:   ownerID,
		Operation: "route",
	})
	defer span.End()

	started := time.Now()

	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	if ownerID == "" {
		return nil, domain.ErrMissingOwner
	}

	ruleset, err := s.activeRuleset(ctx)
	if err != nil {
		return nil, err
	}

	normalized := normalizeQuery(query)
	intent, confidence := classify(normalized, ruleset.rules)

	decision := &domain.RoutingDecision{
		Intent:         intent,
		Confidence:     confidence,
		RulesetVersion: ruleset.version,
	}
	s.allocateBudgets(decision)

	s.metrics.RecordIntent(string(intent), s.cfg.PipelineVersion)
	s.metrics.ObserveStage(metrics.StageRoute, s.cfg.PipelineVersion, time.Since(started), 1, 1)
	return decision, nil
}

func (s *RouterService) activeRuleset(ctx context.Context) (*compiledRuleset, error) {
	if cached, ok := s.cache.Get(rulesetCacheKey); ok {
		return cached, nil
	}

	rules, version, err := s.rulesets.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}

	compiled := &compiledRuleset{version: version, rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		phrase := normalizeQuery(r.Phrase)
		if phrase == "" {
			continue
		}
		weight := r.Weight
		if weight <= 0 {
			weight = 1
		}
		compiled.rules = append(compiled.rules, compiledRule{phrase: phrase, intent: r.Intent, weight: weight})
	}

	s.cache.Add(rulesetCacheKey, compiled)
	return compiled, nil
}

// classify sums rule weights per intent over substring matches. Confidence
// is the winning intent's share of the total matched weight; no match means
// the general intent with zero confidence.
func classify(query string, rules []compiledRule) (domain.Intent, float64) {
	scores := make(map[domain.Intent]float64)
	total := 0.0
	for _, rule := range rules {
		if strings.Contains(query, rule.phrase) {
			scores[rule.intent] += rule.weight
			total += rule.weight
		}
	}
	if total == 0 {
		return domain.IntentGeneral, 0
	}

	best := domain.IntentGeneral
	bestScore := 0.0
	for _, intent := range []domain.Intent{domain.IntentContact, domain.IntentCatalog, domain.IntentSupport, domain.IntentGeneral} {
		if scores[intent] > bestScore {
			best = intent
			bestScore = scores[intent]
		}
	}
	return best, bestScore / total
}

// allocateBudgets splits the total context budget: the primary partition
// gets its configured share, secondaries split the remainder evenly, and
// integer remainders go to the primary so the budgets sum exactly.
func (s *RouterService) allocateBudgets(decision *domain.RoutingDecision) {
	preference := partitionPreference[decision.Intent]
	if len(preference) == 0 {
		preference = partitionPreference[domain.IntentGeneral]
	}

	decision.Primary = preference[0]
	decision.Secondary = preference[1:]
	decision.Budgets = make(map[domain.ChunkType]int, len(preference))

	primary := int(float64(s.cfg.TotalBudget) * s.cfg.PrimaryShare)
	remaining := s.cfg.TotalBudget - primary
	if len(decision.Secondary) > 0 {
		each := remaining / len(decision.Secondary)
		for _, t := range decision.Secondary {
			decision.Budgets[t] = each
			remaining -= each
		}
	}
	decision.Budgets[decision.Primary] = primary + remaining
}

// normalizeQuery lowercases, strips punctuation, and collapses whitespace.
// The zero-width non-joiner becomes a space so Persian compound words match
// whether or not the writer used it.
func normalizeQuery(query string) string {
	lowered := strings.ToLower(query)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch r {
		case '‌', '‏', '‎':
			b.WriteRune(' ')
		case '?', '!', '.', ',', ';', ':', '؟', '،', '؛', '«', '»', '"', '\'', '(', ')':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
