package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/completion-gateway/internal/cascade"
	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/ratelimit"
	"github.com/tributary-ai/completion-gateway/internal/routing"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

type stubAdapter struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context, req *types.CompletionRequest) (string, error)
}

func (s *stubAdapter) ID() string { return s.id }
func (s *stubAdapter) Config() providers.Config {
	return providers.Config{ID: s.id, Kind: "stub"}
}
func (s *stubAdapter) Call(ctx context.Context, req *types.CompletionRequest) (string, error) {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

type stubRegistry map[string]*stubAdapter

func (r stubRegistry) Has(id string) bool {
	_, ok := r[id]
	return ok
}

func (r stubRegistry) Lookup(id string) (providers.Adapter, error) {
	if a, ok := r[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", providers.ErrProviderNotFound, id)
}

func (r stubRegistry) totalCalls() int {
	total := 0
	for _, a := range r {
		total += int(a.calls.Load())
	}
	return total
}

type captureRecorder struct {
	mu      sync.Mutex
	records []*types.InteractionRecord
}

func (c *captureRecorder) Record(rec *types.InteractionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) all() []*types.InteractionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.InteractionRecord(nil), c.records...)
}

type panickingRecorder struct{}

func (panickingRecorder) Record(rec *types.InteractionRecord) { panic("storage exploded") }

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) *ratelimit.Result {
	args := m.Called(ctx, key)
	return args.Get(0).(*ratelimit.Result)
}

func failingAdapter(id string) *stubAdapter {
	return &stubAdapter{id: id, fn: func(ctx context.Context, req *types.CompletionRequest) (string, error) {
		return "", providers.NewUpstreamHTTPError(id, 503, "unavailable")
	}}
}

func replyingAdapter(id, text string) *stubAdapter {
	return &stubAdapter{id: id, fn: func(ctx context.Context, req *types.CompletionRequest) (string, error) {
		return text, nil
	}}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newGateway(t *testing.T, registry stubRegistry, recorder Recorder, opts ...Option) *Gateway {
	t.Helper()

	logger := testLogger()
	policy, err := routing.NewPolicy(routing.Config{
		DefaultProvider:    "openai",
		ResilienceProvider: "groq",
		Features:           map[string]string{"exam-generation": "anthropic"},
	}, registry, logger)
	require.NoError(t, err)

	return New(policy, cascade.New(registry, cascade.Config{}, logger), recorder, logger, opts...)
}

func defaultRegistry() stubRegistry {
	return stubRegistry{
		"openai":    failingAdapter("openai"),
		"groq":      failingAdapter("groq"),
		"anthropic": failingAdapter("anthropic"),
		"providerX": replyingAdapter("providerX", "4"),
	}
}

func TestGateway_RejectsBlankMessage(t *testing.T) {
	registry := defaultRegistry()
	recorder := &captureRecorder{}
	g := newGateway(t, registry, recorder)

	for _, message := range []string{"", "   ", "\n\t "} {
		resp, err := g.Handle(context.Background(), &types.CompletionRequest{Message: message}, RequestMeta{})

		assert.Nil(t, resp)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Contains(t, validationErr.Fields, "message")
	}

	resp, err := g.Handle(context.Background(), nil, RequestMeta{})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, 0, registry.totalCalls())
	assert.Empty(t, recorder.all())
}

func TestGateway_ModelHintSucceeds(t *testing.T) {
	registry := defaultRegistry()
	recorder := &captureRecorder{}
	g := newGateway(t, registry, recorder)

	resp, err := g.Handle(context.Background(),
		&types.CompletionRequest{Message: "2+2?", ModelHint: "providerX"},
		RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, &types.CompletionResponse{
		Text:         "4",
		ProviderUsed: "providerX",
		Succeeded:    true,
		Feature:      types.DefaultFeature,
	}, resp)

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.RecordCompleted, records[0].Status)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, "req-1", records[0].RequestID)
	assert.Equal(t, "2+2?", records[0].Message)
	assert.Equal(t, "4", records[0].Response)
	assert.Equal(t, 1, int(registry["providerX"].calls.Load()))
	assert.Equal(t, 0, int(registry["openai"].calls.Load()))
}

func TestGateway_AllProvidersFail(t *testing.T) {
	registry := defaultRegistry()
	recorder := &captureRecorder{}
	g := newGateway(t, registry, recorder)

	resp, err := g.Handle(context.Background(),
		&types.CompletionRequest{Message: "Generate an exam", Feature: "exam-generation"},
		RequestMeta{})
	require.NoError(t, err)

	assert.False(t, resp.Succeeded)
	assert.Equal(t, types.FallbackProvider, resp.ProviderUsed)
	assert.Equal(t, cascade.DefaultFallbackText, resp.Text)
	assert.Equal(t, "exam-generation", resp.Feature)

	assert.Equal(t, 1, int(registry["anthropic"].calls.Load()))
	assert.Equal(t, 1, int(registry["groq"].calls.Load()))
	assert.Equal(t, 0, int(registry["openai"].calls.Load()))

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.RecordDegraded, records[0].Status)
	assert.Equal(t, 2, records[0].Attempts)
	assert.False(t, records[0].Succeeded)
}

func TestGateway_IsIdempotent(t *testing.T) {
	g := newGateway(t, defaultRegistry(), &captureRecorder{})
	req := &types.CompletionRequest{Message: "2+2?", ModelHint: "providerX"}

	first, err := g.Handle(context.Background(), req, RequestMeta{})
	require.NoError(t, err)
	second, err := g.Handle(context.Background(), req, RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, req.Feature, "caller's request must not be mutated")
}

func TestGateway_FailingRecorderDoesNotAffectResponse(t *testing.T) {
	g := newGateway(t, defaultRegistry(), panickingRecorder{})

	var resp *types.CompletionResponse
	var err error
	assert.NotPanics(t, func() {
		resp, err = g.Handle(context.Background(),
			&types.CompletionRequest{Message: "2+2?", ModelHint: "providerX"}, RequestMeta{})
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded)
	assert.Equal(t, "4", resp.Text)

	noRecorder := newGateway(t, defaultRegistry(), nil)
	resp, err = noRecorder.Handle(context.Background(), &types.CompletionRequest{Message: "hi"}, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, resp.Succeeded)
}

func TestGateway_RateLimitedReturnsFallback(t *testing.T) {
	registry := defaultRegistry()
	recorder := &captureRecorder{}
	limiter := &mockLimiter{}
	limiter.On("Allow", mock.Anything, "ip:10.0.0.1").
		Return(&ratelimit.Result{Allowed: false, RetryAfter: time.Second}).Once()
	g := newGateway(t, registry, recorder, WithLimiter(limiter))

	resp, err := g.Handle(context.Background(),
		&types.CompletionRequest{Message: "2+2?", ModelHint: "providerX"}, RequestMeta{ClientIP: "10.0.0.1"})
	require.NoError(t, err)
	limiter.AssertExpectations(t)

	assert.False(t, resp.Succeeded)
	assert.Equal(t, types.FallbackProvider, resp.ProviderUsed)
	assert.Equal(t, 0, registry.totalCalls())

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.RecordRateLimited, records[0].Status)
	assert.Zero(t, records[0].Attempts)
}

func TestGateway_AllowedRequestIsKeyedByUser(t *testing.T) {
	registry := defaultRegistry()
	limiter := &mockLimiter{}
	limiter.On("Allow", mock.Anything, "user:student-9").
		Return(&ratelimit.Result{Allowed: true, Remaining: 4}).Once()
	g := newGateway(t, registry, &captureRecorder{}, WithLimiter(limiter))

	resp, err := g.Handle(context.Background(),
		&types.CompletionRequest{Message: "2+2?", ModelHint: "providerX", UserID: "student-9"}, RequestMeta{ClientIP: "10.0.0.1"})
	require.NoError(t, err)

	assert.True(t, resp.Succeeded)
	limiter.AssertExpectations(t)
}

func TestGateway_VerifiedUserOverridesBody(t *testing.T) {
	registry := defaultRegistry()
	var seenUser string
	registry["providerX"] = &stubAdapter{id: "providerX", fn: func(ctx context.Context, req *types.CompletionRequest) (string, error) {
		seenUser = req.UserID
		return "ok", nil
	}}
	recorder := &captureRecorder{}
	g := newGateway(t, registry, recorder)

	_, err := g.Handle(context.Background(),
		&types.CompletionRequest{Message: "hello", ModelHint: "providerX", UserID: "claimed"},
		RequestMeta{UserID: "verified"})
	require.NoError(t, err)

	assert.Equal(t, "verified", seenUser)
	assert.Equal(t, "verified", recorder.all()[0].UserID)
}

func TestGateway_CancelledRequestIsRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	registry := defaultRegistry()
	registry["providerX"] = &stubAdapter{id: "providerX", fn: func(callCtx context.Context, req *types.CompletionRequest) (string, error) {
		cancel()
		<-callCtx.Done()
		return "", callCtx.Err()
	}}
	recorder := &captureRecorder{}
	g := newGateway(t, registry, recorder)

	resp, err := g.Handle(ctx, &types.CompletionRequest{Message: "hello", ModelHint: "providerX"}, RequestMeta{})
	require.NoError(t, err)
	assert.False(t, resp.Succeeded)

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.RecordCancelled, records[0].Status)
}

func TestGateway_FeatureIsMatchedExactly(t *testing.T) {
	registry := defaultRegistry()
	gw := newGateway(t, registry, nil)

	resp, err := gw.Handle(context.Background(), &types.CompletionRequest{
		Message: "Write a quiz",
		Feature: " exam-generation ",
	}, RequestMeta{})
	require.NoError(t, err)

	assert.Equal(t, " exam-generation ", resp.Feature)
	assert.Equal(t, int32(0), registry["anthropic"].calls.Load())
	assert.Equal(t, int32(1), registry["openai"].calls.Load())
	assert.Equal(t, int32(1), registry["groq"].calls.Load())
}

func TestLimitKey(t *testing.T) {
	assert.Equal(t, "user:u1", limitKey(&types.CompletionRequest{UserID: "u1"}, RequestMeta{ClientIP: "1.2.3.4"}))
	assert.Equal(t, "ip:1.2.3.4", limitKey(&types.CompletionRequest{}, RequestMeta{ClientIP: "1.2.3.4"}))
	assert.Equal(t, "anonymous", limitKey(&types.CompletionRequest{}, RequestMeta{}))
}
