package types

import "strings"

const (
	DefaultFeature  = "general"
	DefaultLanguage = "English"
)

// CompletionRequest is the inbound single-turn request
type CompletionRequest struct {
	Message   string `json:"message" validate:"notblank"`
	Feature   string `json:"feature,omitempty"`
	ModelHint string `json:"modelHint,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Language  string `json:"language,omitempty"`
	Context   string `json:"context,omitempty"`
}

// Normalize fills the advisory fields with their defaults. Feature and model
// hint are matched exactly, so only blank values are replaced.
func (r *CompletionRequest) Normalize() {
	if strings.TrimSpace(r.Feature) == "" {
		r.Feature = DefaultFeature
	}
	if strings.TrimSpace(r.ModelHint) == "" {
		r.ModelHint = ""
	}
	if strings.TrimSpace(r.Language) == "" {
		r.Language = DefaultLanguage
	}
}

// RoutingDecisionRequest is the body of the routing dry-run endpoint
type RoutingDecisionRequest struct {
	Feature   string `json:"feature,omitempty"`
	ModelHint string `json:"modelHint,omitempty"`
}
