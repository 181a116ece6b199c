package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/lumora/internal/domain"
)

// MockRulesetStore is a mock implementation of RulesetStore
type MockRulesetStore struct {
	mock.Mock
}

func (m *MockRulesetStore) ActiveRules(ctx context.Context) ([]domain.IntentRule, int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]domain.IntentRule), args.Int(1), args.Error(2)
}

func testRules() []domain.IntentRule {
	return []domain.IntentRule{
		{Phrase: "address", Intent: domain.IntentContact, Weight: 1},
		{Phrase: "opening hours", Intent: domain.IntentContact, Weight: 1.5},
		{Phrase: "آدرس", Intent: domain.IntentContact, Weight: 1},
		{Phrase: "ساعت کاری", Intent: domain.IntentContact, Weight: 1.5},
		{Phrase: "price", Intent: domain.IntentCatalog, Weight: 1},
		{Phrase: "قیمت", Intent: domain.IntentCatalog, Weight: 1},
		{Phrase: "refund", Intent: domain.IntentSupport, Weight: 1.5},
		{Phrase: "problem", Intent: domain.IntentSupport, Weight: 1},
	}
}

func newRouterForTest(store RulesetStore) *RouterService {
	return NewRouterService(store, nil, RouterConfig{})
}

func TestRouteValidation(t *testing.T) {
	svc := newRouterForTest(new(MockRulesetStore))

	_, err := svc.Route(context.Background(), "  ", "owner-1")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	_, err = svc.Route(context.Background(), "hello", "")
	assert.ErrorIs(t, err, domain.ErrMissingOwner)
}

func TestRouteContactIntent(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 3, nil)

	svc := newRouterForTest(store)

	decision, err := svc.Route(context.Background(), "What is your address?", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentContact, decision.Intent)
	assert.Equal(t, 3, decision.RulesetVersion)
	assert.Equal(t, domain.ChunkTypeManual, decision.Primary)
	assert.Equal(t, []domain.ChunkType{domain.ChunkTypeFAQ, domain.ChunkTypeWebsite}, decision.Secondary)
	assert.InDelta(t, 1.0, decision.Confidence, 1e-9)
}

func TestRoutePersianQueryWithZWNJ(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil)

	svc := newRouterForTest(store)

	// The query uses a zero-width non-joiner inside the compound word;
	// normalization still matches the bare phrase.
	decision, err := svc.Route(context.Background(), "آدرس‌تون کجاست؟", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentContact, decision.Intent)
	assert.Equal(t, domain.ChunkTypeManual, decision.Primary)
}

func TestRoutePersianWorkingHours(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil)

	svc := newRouterForTest(store)

	decision, err := svc.Route(context.Background(), "ساعت کاری چنده؟", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentContact, decision.Intent)
}

func TestRouteUnmatchedQueryIsGeneral(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil)

	svc := newRouterForTest(store)

	decision, err := svc.Route(context.Background(), "tell me something nice", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentGeneral, decision.Intent)
	assert.Zero(t, decision.Confidence)
	assert.Equal(t, domain.ChunkTypeWebsite, decision.Primary)
}

func TestRouteConfidenceIsWinningShare(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil)

	svc := newRouterForTest(store)

	// "refund" (support, 1.5) and "price" (catalog, 1.0) both match.
	decision, err := svc.Route(context.Background(), "can I get a refund on this price", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentSupport, decision.Intent)
	assert.InDelta(t, 1.5/2.5, decision.Confidence, 1e-9)
}

func TestRouteBudgetsSumToTotal(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil)

	for _, cfg := range []RouterConfig{
		{},
		{TotalBudget: 3000, PrimaryShare: 0.6},
		{TotalBudget: 1000, PrimaryShare: 0.7},
		{TotalBudget: 3001, PrimaryShare: 0.5},
	} {
		svc := NewRouterService(store, nil, cfg)

		decision, err := svc.Route(context.Background(), "what is the price", "owner-1")
		require.NoError(t, err)

		want := cfg.TotalBudget
		if want <= 0 {
			want = 3000
		}
		assert.Equal(t, want, decision.TotalBudget(), "config %+v", cfg)
		assert.Len(t, decision.Budgets, 3)
	}
}

func TestRoutePrimaryGetsLargestBudget(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil)

	svc := newRouterForTest(store)

	decision, err := svc.Route(context.Background(), "what is the price", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, domain.ChunkTypeProduct, decision.Primary)
	primaryBudget := decision.Budgets[decision.Primary]
	for _, sec := range decision.Secondary {
		assert.Greater(t, primaryBudget, decision.Budgets[sec])
	}
}

func TestRouteCachesRuleset(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil).Once()

	svc := newRouterForTest(store)

	for i := 0; i < 3; i++ {
		_, err := svc.Route(context.Background(), "address please", "owner-1")
		require.NoError(t, err)
	}

	store.AssertExpectations(t)
}

func TestRouteCacheExpires(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(testRules(), 1, nil).Twice()

	svc := NewRouterService(store, nil, RouterConfig{CacheTTL: 50 * time.Millisecond})

	_, err := svc.Route(context.Background(), "address", "owner-1")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	_, err = svc.Route(context.Background(), "address", "owner-1")
	require.NoError(t, err)

	store.AssertExpectations(t)
}

func TestRouteRulesetLoadErrorPropagates(t *testing.T) {
	store := new(MockRulesetStore)
	store.On("ActiveRules", mock.Anything).Return(nil, 0, domain.ErrRulesetNotFound)

	svc := newRouterForTest(store)

	_, err := svc.Route(context.Background(), "address", "owner-1")
	assert.ErrorIs(t, err, domain.ErrRulesetNotFound)
}

func TestNormalizeQuery(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"آدرس‌تون کجاست؟", "آدرس تون کجاست"},
		{"«قیمت»، لطفا", "قیمت لطفا"},
		{"mixed: Case, Punct.", "mixed case punct"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeQuery(tc.in), "input %q", tc.in)
	}
}
