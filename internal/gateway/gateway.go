package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/cascade"
	"github.com/tributary-ai/completion-gateway/internal/ratelimit"
	"github.com/tributary-ai/completion-gateway/internal/routing"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

// ChainResolver picks the providers to try
type ChainResolver interface {
	ResolveChain(feature, modelHint string) routing.Chain
}

// Resolver runs a chain
type Resolver interface {
	Resolve(ctx context.Context, req *types.CompletionRequest, chain routing.Chain) *cascade.Outcome
	FallbackResult() types.CompletionResult
}

// Recorder accepts finished interactions
type Recorder interface {
	Record(rec *types.InteractionRecord)
}

// Limiter throttles callers by key
type Limiter interface {
	Allow(ctx context.Context, key string) *ratelimit.Result
}

// RequestMeta is transport-level information about the caller
type RequestMeta struct {
	RequestID string
	ClientIP  string
	// UserID is a verified identity; it overrides the body's userId
	UserID string
}

// Gateway serves one completion request end to end
type Gateway struct {
	policy   ChainResolver
	cascade  Resolver
	recorder Recorder
	limiter  Limiter
	logger   *logrus.Logger
	now      func() time.Time
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithLimiter enables rate limiting
func WithLimiter(limiter Limiter) Option {
	return func(g *Gateway) {
		g.limiter = limiter
	}
}

// New creates a gateway. recorder may be nil.
func New(policy ChainResolver, resolver Resolver, recorder Recorder, logger *logrus.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		policy:   policy,
		cascade:  resolver,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle validates the request, resolves it through the provider chain and
// records the interaction. The only error it returns matches
// ErrInvalidRequest; every provider failure is absorbed into the fallback
// result.
func (g *Gateway) Handle(ctx context.Context, in *types.CompletionRequest, meta RequestMeta) (*types.CompletionResponse, error) {
	if in == nil {
		return nil, &ValidationError{
			Message: "request body is required",
			Fields:  map[string]string{"message": "message is required and must not be blank"},
		}
	}
	if err := validateStruct(in); err != nil {
		g.logger.WithFields(logrus.Fields{
			"request_id": meta.RequestID,
		}).WithError(err).Debug("Rejected completion request")
		return nil, err
	}

	req := *in
	req.Normalize()
	if meta.UserID != "" {
		req.UserID = meta.UserID
	}

	start := g.now()

	if g.limiter != nil {
		if res := g.limiter.Allow(ctx, limitKey(&req, meta)); !res.Allowed {
			result := g.cascade.FallbackResult()
			g.record(&req, meta, result, types.RecordRateLimited, 0, start)
			g.logger.WithFields(logrus.Fields{
				"request_id":  meta.RequestID,
				"feature":     req.Feature,
				"retry_after": res.RetryAfter,
			}).Warn("Completion rate limited; returning static fallback")
			return types.NewCompletionResponse(result, req.Feature), nil
		}
	}

	chain := g.policy.ResolveChain(req.Feature, req.ModelHint)
	outcome := g.cascade.Resolve(ctx, &req, chain)

	status := types.RecordCompleted
	attempts := len(outcome.Attempts)
	switch {
	case outcome.Result.Succeeded:
		attempts++
	case outcome.Cancelled:
		status = types.RecordCancelled
	default:
		status = types.RecordDegraded
	}

	g.record(&req, meta, outcome.Result, status, attempts, start)

	g.logger.WithFields(logrus.Fields{
		"request_id":    meta.RequestID,
		"feature":       req.Feature,
		"chain":         chain,
		"provider_used": outcome.Result.ProviderUsed,
		"succeeded":     outcome.Result.Succeeded,
		"status":        status,
		"duration_ms":   g.now().Sub(start).Milliseconds(),
	}).Info("Completion resolved")

	return types.NewCompletionResponse(outcome.Result, req.Feature), nil
}

// record hands the interaction to the recorder. A misbehaving recorder never
// affects the response.
func (g *Gateway) record(req *types.CompletionRequest, meta RequestMeta, result types.CompletionResult, status types.RecordStatus, attempts int, start time.Time) {
	if g.recorder == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.WithFields(logrus.Fields{
				"request_id": meta.RequestID,
				"panic":      r,
			}).Error("Interaction recorder panicked")
		}
	}()

	now := g.now()
	g.recorder.Record(&types.InteractionRecord{
		ID:           uuid.New(),
		RequestID:    meta.RequestID,
		UserID:       req.UserID,
		Feature:      req.Feature,
		Message:      req.Message,
		Response:     result.Text,
		ProviderUsed: result.ProviderUsed,
		Succeeded:    result.Succeeded,
		Status:       status,
		Attempts:     attempts,
		LatencyMs:    now.Sub(start).Milliseconds(),
		Timestamp:    now.UTC(),
	})
}

func limitKey(req *types.CompletionRequest, meta RequestMeta) string {
	if req.UserID != "" {
		return "user:" + req.UserID
	}
	if meta.ClientIP != "" {
		return "ip:" + meta.ClientIP
	}
	return "anonymous"
}
