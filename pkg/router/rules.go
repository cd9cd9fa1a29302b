// Package router implements the orchestrating agent: keyword-driven intent
// classification over an ordered rule table, call-plan construction, and
// plan execution against the specialist agents with partial-failure
// aggregation.
package router

import "strings"

// Category is the classification outcome for one incoming message.
type Category string

const (
	// CategoryMultiIntent fans out in parallel, one step per detected intent.
	CategoryMultiIntent Category = "multi_intent"

	// CategoryBilling routes to the billing specialist.
	CategoryBilling Category = "billing"

	// CategoryDataThenSupport chains the data specialist into the support
	// specialist, forwarding the data output as context.
	CategoryDataThenSupport Category = "data_then_support"

	// CategoryData routes to the data specialist alone.
	CategoryData Category = "data"

	// CategorySupport is the fallback.
	CategorySupport Category = "support"
)

var (
	billingMarkers  = []string{"billing", "payment", "refund", "invoice", "charge"}
	updateMarkers   = []string{"update", "change", "modify", "correct my"}
	historyMarkers  = []string{"history", "past interactions", "recent activity", "previous interactions", "follow up on"}
	identityMarkers = []string{"customer", "account", "my id", " id "}
)

// Rule pairs a predicate with the category it selects.
type Rule struct {
	Name     string
	Match    func(text string) bool
	Category Category
}

// DefaultRules is the routing policy, evaluated top to bottom with the
// first match winning.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "multi-intent",
			Match: func(text string) bool {
				return containsAny(text, updateMarkers) && containsAny(text, historyMarkers)
			},
			Category: CategoryMultiIntent,
		},
		{
			Name: "billing",
			Match: func(text string) bool {
				return containsAny(text, billingMarkers)
			},
			Category: CategoryBilling,
		},
		{
			Name: "history",
			Match: func(text string) bool {
				return containsAny(text, historyMarkers)
			},
			Category: CategoryDataThenSupport,
		},
		{
			Name: "identity",
			Match: func(text string) bool {
				return containsAny(text, identityMarkers)
			},
			Category: CategoryData,
		},
	}
}

// Classify evaluates the rules in order and returns the first matching
// category, falling back to support.
func Classify(rules []Rule, text string) Category {
	lower := strings.ToLower(text)
	for _, rule := range rules {
		if rule.Match(lower) {
			return rule.Category
		}
	}
	return CategorySupport
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
