package types

import (
	"time"
)

// FallbackProvider is reported as providerUsed when no upstream succeeded
const FallbackProvider = "fallback"

// CompletionResult is the outcome of a cascade
type CompletionResult struct {
	Text         string `json:"text"`
	ProviderUsed string `json:"providerUsed"`
	Succeeded    bool   `json:"succeeded"`
}

// CompletionResponse is the body returned to the caller
type CompletionResponse struct {
	Text         string `json:"text"`
	ProviderUsed string `json:"providerUsed"`
	Succeeded    bool   `json:"succeeded"`
	Feature      string `json:"feature"`
}

// NewCompletionResponse echoes the feature alongside the result.
func NewCompletionResponse(result CompletionResult, feature string) *CompletionResponse {
	return &CompletionResponse{
		Text:         result.Text,
		ProviderUsed: result.ProviderUsed,
		Succeeded:    result.Succeeded,
		Feature:      feature,
	}
}

type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Timestamp int64       `json:"timestamp"`
}

type ErrorDetail struct {
	Message string            `json:"message"`
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ProviderDescriptor is the credential-free view of a registered provider
type ProviderDescriptor struct {
	ID                   string        `json:"id"`
	Kind                 string        `json:"kind"`
	Model                string        `json:"model"`
	Endpoint             string        `json:"endpoint"`
	CredentialRef        string        `json:"credentialRef"`
	CredentialConfigured bool          `json:"credentialConfigured"`
	Timeout              time.Duration `json:"timeout"`
}

// HealthResponse is returned by the health endpoints
type HealthResponse struct {
	Status    string `json:"status"`
	Providers int    `json:"providers"`
	Storage   string `json:"storage,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
