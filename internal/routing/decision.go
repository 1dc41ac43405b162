package routing

import (
	"time"
)

// Chain is the ordered, deduplicated list of provider ids tried for a request.
// The static fallback step is implicit and never appears in the chain.
type Chain []string

// Contains reports whether id is part of the chain
func (c Chain) Contains(id string) bool {
	for _, existing := range c {
		if existing == id {
			return true
		}
	}
	return false
}

// RoutingDecision contains information about a routing decision
type RoutingDecision struct {
	// The primary provider id
	SelectedProvider string `json:"selected_provider"`

	// Human-readable reasoning for the decision
	Reasoning []string `json:"reasoning"`

	// Providers tried in order, primary first
	FallbackChain Chain `json:"fallback_chain"`

	// Additional routing context
	RoutingContext RoutingContext `json:"routing_context"`
}

// RoutingContext contains additional context about the routing decision
type RoutingContext struct {
	// Strategy used for routing: "model_hint", "feature_table" or "default"
	Strategy string `json:"strategy"`

	Feature   string `json:"feature"`
	ModelHint string `json:"model_hint,omitempty"`

	// Routing decision timestamp
	Timestamp time.Time `json:"timestamp"`
}
