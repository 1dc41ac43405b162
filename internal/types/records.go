package types

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus describes how a request was resolved
type RecordStatus string

const (
	RecordCompleted   RecordStatus = "completed"
	RecordDegraded    RecordStatus = "degraded"
	RecordCancelled   RecordStatus = "cancelled"
	RecordRateLimited RecordStatus = "rate_limited"
)

// InteractionRecord is the append-only audit row for one request
type InteractionRecord struct {
	ID             uuid.UUID    `json:"id"`
	RequestID      string       `json:"requestId,omitempty"`
	UserID         string       `json:"userId,omitempty"`
	Feature        string       `json:"feature"`
	Message        string       `json:"message"`
	Response       string       `json:"response"`
	ProviderUsed   string       `json:"providerUsed"`
	Succeeded      bool         `json:"succeeded"`
	Status         RecordStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	PromptTokens   int          `json:"promptTokens"`
	ResponseTokens int          `json:"responseTokens"`
	LatencyMs      int64        `json:"latencyMs"`
	Timestamp      time.Time    `json:"timestamp"`
}
