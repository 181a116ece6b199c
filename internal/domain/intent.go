package domain

// Intent is the coarse category a routed query falls into.
type Intent string

const (
	IntentContact Intent = "contact"
	IntentCatalog Intent = "catalog"
	IntentSupport Intent = "support"
	IntentGeneral Intent = "general"
)

// ParseIntent validates a string intent name.
func ParseIntent(s string) (Intent, error) {
	switch Intent(s) {
	case IntentContact, IntentCatalog, IntentSupport, IntentGeneral:
		return Intent(s), nil
	default:
		return "", NewDomainError(ErrCodeValidation, "unknown intent: "+s)
	}
}

// IntentRule maps a phrase to an intent. Rules are versioned so the active
// ruleset can be swapped atomically and tested independently of routing.
type IntentRule struct {
	ID      string
	Version int
	Phrase  string
	Intent  Intent
	Weight  float64
}

// RoutingDecision is the outcome of classifying a query: the chosen intent,
// how confident the match was, and which partitions to search with which
// token budgets.
type RoutingDecision struct {
	Intent         Intent
	Confidence     float64
	RulesetVersion int
	Primary        ChunkType
	Secondary      []ChunkType
	Budgets        map[ChunkType]int
}

// TotalBudget returns the sum of all per-partition budgets.
func (d *RoutingDecision) TotalBudget() int {
	total := 0
	for _, b := range d.Budgets {
		total += b
	}
	return total
}
