package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

const (
	Kind             = "anthropic"
	defaultMaxTokens = 1024
	defaultModel     = "claude-3-5-sonnet-20241022"
)

// AnthropicProvider calls the Anthropic Messages API
type AnthropicProvider struct {
	client *anthropic.Client
	config providers.Config
	logger *logrus.Logger
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config providers.Config, logger *logrus.Logger) (providers.Adapter, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(config.Credential),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{}),
	}

	if config.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(config.Endpoint))
	}
	if config.Model == "" {
		config.Model = defaultModel
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}, nil
}

// ID returns the provider id
func (p *AnthropicProvider) ID() string {
	return p.config.ID
}

// Config returns the provider configuration
func (p *AnthropicProvider) Config() providers.Config {
	return p.config
}

// Call performs one Messages API request
func (p *AnthropicProvider) Call(ctx context.Context, req *types.CompletionRequest) (string, error) {
	if !p.config.HasCredential() {
		return "", providers.CredentialMissing(p.config.ID, p.config.CredentialRef)
	}

	params := p.BuildPayload(req)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", p.convertError(ctx, err)
	}

	text := p.ParseResponse(resp)
	if text == "" {
		return "", providers.EmptyResponse(p.config.ID)
	}

	p.logger.WithFields(logrus.Fields{
		"provider":      p.config.ID,
		"model":         string(resp.Model),
		"output_tokens": resp.Usage.OutputTokens,
	}).Debug("Anthropic completion received")

	return text, nil
}

// BuildPayload converts the request into Messages API parameters
func (p *AnthropicProvider) BuildPayload(req *types.CompletionRequest) anthropic.MessageNewParams {
	prompt := providers.BuildPrompt(req)

	maxTokens := int64(defaultMaxTokens)
	if p.config.MaxTokens > 0 {
		maxTokens = int64(p.config.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}
	return params
}

// ParseResponse concatenates the text blocks of a message
func (p *AnthropicProvider) ParseResponse(resp *anthropic.Message) string {
	var textContent strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			textContent.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(textContent.String())
}

func (p *AnthropicProvider) convertError(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return providers.NewUpstreamHTTPError(p.config.ID, apiErr.StatusCode, apiErr.Error())
	}
	return providers.TransportError(ctx, p.config.ID, err)
}

var _ providers.Adapter = (*AnthropicProvider)(nil)
