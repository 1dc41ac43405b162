package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

func createTestProvider(t *testing.T, endpoint, credential string) *AnthropicProvider {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	adapter, err := NewAnthropicProvider(providers.Config{
		ID:            "anthropic",
		Kind:          Kind,
		Endpoint:      endpoint,
		CredentialRef: "ANTHROPIC_API_KEY",
		Credential:    credential,
		Model:         "claude-3-haiku-20240307",
		MaxTokens:     300,
	}, logger)
	require.NoError(t, err)

	return adapter.(*AnthropicProvider)
}

const messageJSON = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-haiku-20240307",
	"content": [{"type": "text", "text": "Photosynthesis "}, {"type": "text", "text": "turns light into sugar."}],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 10, "output_tokens": 6}
}`

func TestAnthropicProvider_Call(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(messageJSON))
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL, "test-key")

	text, err := provider.Call(context.Background(), &types.CompletionRequest{
		Message:  "Explain photosynthesis",
		Feature:  "simulation",
		Language: "English",
	})
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis turns light into sugar.", text)

	assert.Equal(t, "claude-3-haiku-20240307", body["model"])
	assert.EqualValues(t, 300, body["max_tokens"])
	assert.NotEmpty(t, body["system"])
}

func TestAnthropicProvider_CredentialMissing(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL, "")

	_, err := provider.Call(context.Background(), &types.CompletionRequest{Message: "hi"})
	assert.ErrorIs(t, err, providers.ErrCredentialMissing)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestAnthropicProvider_UpstreamHTTPErrorIsNotRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL, "test-key")

	_, err := provider.Call(context.Background(), &types.CompletionRequest{Message: "hi"})

	var httpErr *providers.UpstreamHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestAnthropicProvider_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_02","type":"message","role":"assistant","model":"m","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":0}}`))
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL, "test-key")

	_, err := provider.Call(context.Background(), &types.CompletionRequest{Message: "hi"})
	assert.ErrorIs(t, err, providers.ErrEmptyResponse)
}

func TestAnthropicProvider_BuildPayload(t *testing.T) {
	provider := createTestProvider(t, "http://localhost", "k")

	params := provider.BuildPayload(&types.CompletionRequest{Message: " hello ", Language: "French"})

	assert.Equal(t, anthropic.Model("claude-3-haiku-20240307"), params.Model)
	assert.Equal(t, int64(300), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Contains(t, params.System[0].Text, "Respond in French.")
	require.Len(t, params.Messages, 1)
}

func TestNewAnthropicProvider_Defaults(t *testing.T) {
	adapter, err := NewAnthropicProvider(providers.Config{ID: "claude", Kind: Kind}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, defaultModel, adapter.Config().Model)
	params := adapter.(*AnthropicProvider).BuildPayload(&types.CompletionRequest{Message: "x"})
	assert.Equal(t, int64(defaultMaxTokens), params.MaxTokens)
	assert.False(t, params.Temperature.Valid())
}

func TestAnthropicProvider_BuildPayloadAppliesTemperature(t *testing.T) {
	provider := createTestProvider(t, "http://localhost", "k")
	provider.config.Temperature = 0.2

	params := provider.BuildPayload(&types.CompletionRequest{Message: "hello"})

	require.True(t, params.Temperature.Valid())
	assert.InDelta(t, 0.2, params.Temperature.Value, 1e-6)
}
