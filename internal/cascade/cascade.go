package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/routing"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

const (
	DefaultCallTimeout  = 30 * time.Second
	DefaultFallbackText = "I'm having trouble reaching the AI service right now. " +
		"Please try again in a few moments."

	tracerName = "github.com/tributary-ai/completion-gateway/internal/cascade"
)

// Config holds cascade settings
type Config struct {
	CallTimeout  time.Duration `yaml:"call_timeout"`
	FallbackText string        `yaml:"fallback_text"`
}

// Lookup resolves a provider id to its adapter
type Lookup interface {
	Lookup(id string) (providers.Adapter, error)
}

// Attempt is one failed provider call
type Attempt struct {
	Provider string
	Kind     string
	Duration time.Duration
	Err      error
}

// Outcome is the full result of resolving one chain
type Outcome struct {
	Result    types.CompletionResult
	Attempts  []Attempt
	Cancelled bool
	// Err is ErrAllProvidersExhausted when every entry failed. It never
	// reaches the caller.
	Err      error
	Duration time.Duration
}

// Cascade tries a chain of providers sequentially, first success wins
type Cascade struct {
	registry     Lookup
	callTimeout  time.Duration
	fallbackText string
	tracer       trace.Tracer
	logger       *logrus.Logger
}

// Option customizes a Cascade
type Option func(*Cascade)

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Cascade) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// New creates a cascade over the given registry
func New(registry Lookup, cfg Config, logger *logrus.Logger, opts ...Option) *Cascade {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = DefaultFallbackText
	}

	c := &Cascade{
		registry:     registry,
		callTimeout:  cfg.CallTimeout,
		fallbackText: cfg.FallbackText,
		tracer:       otel.Tracer(tracerName),
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FallbackResult is the deterministic result returned when no provider answers
func (c *Cascade) FallbackResult() types.CompletionResult {
	return types.CompletionResult{
		Text:         c.fallbackText,
		ProviderUsed: types.FallbackProvider,
		Succeeded:    false,
	}
}

// Resolve tries each provider in chain once, in order. It never returns an
// error; exhaustion, the overall deadline and cancellation all produce the
// static fallback result.
func (c *Cascade) Resolve(ctx context.Context, req *types.CompletionRequest, chain routing.Chain) *Outcome {
	start := time.Now()
	parent := ctx

	ctx, span := c.tracer.Start(ctx, "cascade.resolve", trace.WithAttributes(
		attribute.String("feature", req.Feature),
		attribute.StringSlice("chain", chain),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.overallDeadline(chain))
	defer cancel()

	outcome := &Outcome{}

	for _, id := range chain {
		if err := ctx.Err(); err != nil {
			break
		}

		attemptStart := time.Now()
		text, kind, err := c.attempt(ctx, id, req)
		if err == nil {
			outcome.Result = types.CompletionResult{
				Text:         text,
				ProviderUsed: id,
				Succeeded:    true,
			}
			outcome.Duration = time.Since(start)
			span.SetAttributes(attribute.String("provider_used", id), attribute.Int("failed_attempts", len(outcome.Attempts)))
			return outcome
		}

		outcome.Attempts = append(outcome.Attempts, Attempt{
			Provider: id,
			Kind:     kind,
			Duration: time.Since(attemptStart),
			Err:      err,
		})

		c.logger.WithFields(logrus.Fields{
			"provider":    id,
			"kind":        kind,
			"feature":     req.Feature,
			"reason":      providers.Classify(err),
			"duration_ms": time.Since(attemptStart).Milliseconds(),
		}).WithError(err).Warn("Provider attempt failed")
	}

	if errors.Is(parent.Err(), context.Canceled) {
		outcome.Cancelled = true
	}

	outcome.Err = fmt.Errorf("%w after %d attempts", providers.ErrAllProvidersExhausted, len(outcome.Attempts))
	outcome.Result = c.FallbackResult()
	outcome.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("provider_used", types.FallbackProvider),
		attribute.Int("failed_attempts", len(outcome.Attempts)),
		attribute.Bool("cancelled", outcome.Cancelled),
	)
	span.SetStatus(codes.Error, outcome.Err.Error())

	c.logger.WithFields(logrus.Fields{
		"feature":   req.Feature,
		"chain":     chain,
		"cancelled": outcome.Cancelled,
	}).Warn("All providers failed; returning static fallback")

	return outcome
}

// attempt runs one bounded provider call. A panicking adapter is reported as
// a failed attempt.
func (c *Cascade) attempt(ctx context.Context, id string, req *types.CompletionRequest) (text, kind string, err error) {
	adapter, err := c.registry.Lookup(id)
	if err != nil {
		return "", "", err
	}
	kind = adapter.Config().Kind

	timeout := c.timeoutFor(adapter)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, span := c.tracer.Start(callCtx, "cascade.attempt", trace.WithAttributes(
		attribute.String("provider", id),
		attribute.String("kind", kind),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", id, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, providers.Classify(err))
		}
	}()

	text, err = adapter.Call(callCtx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = providers.EmptyResponse(id)
	}
	return text, kind, err
}

func (c *Cascade) timeoutFor(adapter providers.Adapter) time.Duration {
	if t := adapter.Config().Timeout; t > 0 {
		return t
	}
	return c.callTimeout
}

// overallDeadline is the sum of the per-call timeouts of the chain
func (c *Cascade) overallDeadline(chain routing.Chain) time.Duration {
	var total time.Duration
	for _, id := range chain {
		adapter, err := c.registry.Lookup(id)
		if err != nil {
			total += c.callTimeout
			continue
		}
		total += c.timeoutFor(adapter)
	}
	if total == 0 {
		total = c.callTimeout
	}
	return total
}
