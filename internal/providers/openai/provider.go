package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

// Kinds served by this adapter through the OpenAI chat completions protocol
const (
	KindOpenAI     = "openai"
	KindGroq       = "groq"
	KindOpenRouter = "openrouter"
)

var defaultBaseURLs = map[string]string{
	KindOpenAI:     "https://api.openai.com/v1",
	KindGroq:       "https://api.groq.com/openai/v1",
	KindOpenRouter: "https://openrouter.ai/api/v1",
}

// OpenAIProvider calls OpenAI and OpenAI-compatible chat completion APIs
type OpenAIProvider struct {
	client *openai.Client
	config providers.Config
	logger *logrus.Logger
}

// NewOpenAIProvider creates a new OpenAI-protocol provider instance
func NewOpenAIProvider(config providers.Config, logger *logrus.Logger) (providers.Adapter, error) {
	baseURL := config.Endpoint
	if baseURL == "" {
		baseURL = defaultBaseURLs[config.Kind]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no endpoint configured for kind %q", config.Kind)
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(config.Credential)
	clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	clientConfig.HTTPClient = &http.Client{}

	config.Endpoint = clientConfig.BaseURL

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}, nil
}

// ID returns the provider id
func (p *OpenAIProvider) ID() string {
	return p.config.ID
}

// Config returns the provider configuration
func (p *OpenAIProvider) Config() providers.Config {
	return p.config
}

// Call performs one chat completion request
func (p *OpenAIProvider) Call(ctx context.Context, req *types.CompletionRequest) (string, error) {
	if !p.config.HasCredential() {
		return "", providers.CredentialMissing(p.config.ID, p.config.CredentialRef)
	}

	openaiReq := p.BuildPayload(req)

	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return "", p.convertError(ctx, err)
	}

	text := p.ParseResponse(&resp)
	if text == "" {
		return "", providers.EmptyResponse(p.config.ID)
	}

	p.logger.WithFields(logrus.Fields{
		"provider":          p.config.ID,
		"model":             resp.Model,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("OpenAI completion received")

	return text, nil
}

// BuildPayload converts the request into a chat completion request
func (p *OpenAIProvider) BuildPayload(req *types.CompletionRequest) openai.ChatCompletionRequest {
	prompt := providers.BuildPrompt(req)

	openaiReq := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
	}
	if p.config.MaxTokens > 0 {
		openaiReq.MaxTokens = p.config.MaxTokens
	}
	if p.config.Temperature > 0 {
		openaiReq.Temperature = p.config.Temperature
	}

	return openaiReq
}

// ParseResponse extracts the first choice's text
func (p *OpenAIProvider) ParseResponse(resp *openai.ChatCompletionResponse) string {
	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text
		}
	}
	return ""
}

// convertError maps SDK errors onto the provider error taxonomy
func (p *OpenAIProvider) convertError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return providers.NewUpstreamHTTPError(p.config.ID, apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return providers.NewUpstreamHTTPError(p.config.ID, reqErr.HTTPStatusCode, reqErr.Error())
	}

	return providers.TransportError(ctx, p.config.ID, err)
}

var _ providers.Adapter = (*OpenAIProvider)(nil)
