package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/types"
)

const (
	Kind = "gemini"

	// DefaultEndpoint is the generateContent URL template; {model} is substituted per call.
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent"

	defaultModel     = "gemini-1.5-flash"
	maxResponseBytes = 4 << 20

	payloadTemplate = `{"systemInstruction":{"parts":[{"text":""}]},"contents":[{"role":"user","parts":[{"text":""}]}]}`
)

// GeminiProvider calls the Gemini generateContent REST endpoint
type GeminiProvider struct {
	httpClient *http.Client
	config     providers.Config
	url        string
	logger     *logrus.Logger
}

// NewGeminiProvider creates a new Gemini provider instance
func NewGeminiProvider(config providers.Config, logger *logrus.Logger) (providers.Adapter, error) {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if !strings.HasPrefix(config.Endpoint, "http://") && !strings.HasPrefix(config.Endpoint, "https://") {
		return nil, fmt.Errorf("invalid endpoint %q", config.Endpoint)
	}

	return &GeminiProvider{
		httpClient: &http.Client{},
		config:     config,
		url:        strings.ReplaceAll(config.Endpoint, "{model}", config.Model),
		logger:     logger,
	}, nil
}

// ID returns the provider id
func (p *GeminiProvider) ID() string {
	return p.config.ID
}

// Config returns the provider configuration
func (p *GeminiProvider) Config() providers.Config {
	return p.config
}

// Call performs one generateContent request
func (p *GeminiProvider) Call(ctx context.Context, req *types.CompletionRequest) (string, error) {
	if !p.config.HasCredential() {
		return "", providers.CredentialMissing(p.config.ID, p.config.CredentialRef)
	}

	payload, err := p.BuildPayload(req)
	if err != nil {
		return "", fmt.Errorf("provider %s: failed to build payload: %w", p.config.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider %s: failed to create request: %w", p.config.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.config.Credential)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", providers.TransportError(ctx, p.config.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", providers.TransportError(ctx, p.config.ID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", providers.NewUpstreamHTTPError(p.config.ID, resp.StatusCode, string(body))
	}

	text := p.ParseResponse(body)
	if text == "" {
		return "", providers.EmptyResponse(p.config.ID)
	}

	p.logger.WithFields(logrus.Fields{
		"provider":      p.config.ID,
		"model":         p.config.Model,
		"finish_reason": gjson.GetBytes(body, "candidates.0.finishReason").String(),
	}).Debug("Gemini completion received")

	return text, nil
}

// BuildPayload renders the generateContent request body
func (p *GeminiProvider) BuildPayload(req *types.CompletionRequest) ([]byte, error) {
	prompt := providers.BuildPrompt(req)

	payload := []byte(payloadTemplate)
	var err error

	payload, err = sjson.SetBytes(payload, "systemInstruction.parts.0.text", prompt.System)
	if err != nil {
		return nil, err
	}
	payload, err = sjson.SetBytes(payload, "contents.0.parts.0.text", prompt.User)
	if err != nil {
		return nil, err
	}
	if p.config.MaxTokens > 0 {
		payload, err = sjson.SetBytes(payload, "generationConfig.maxOutputTokens", p.config.MaxTokens)
		if err != nil {
			return nil, err
		}
	}
	if p.config.Temperature > 0 {
		payload, err = sjson.SetBytes(payload, "generationConfig.temperature", p.config.Temperature)
		if err != nil {
			return nil, err
		}
	}

	return payload, nil
}

// ParseResponse joins the text parts of the first candidate
func (p *GeminiProvider) ParseResponse(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	var b strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts.#.text").ForEach(func(_, part gjson.Result) bool {
		b.WriteString(part.String())
		return true
	})
	return strings.TrimSpace(b.String())
}

var _ providers.Adapter = (*GeminiProvider)(nil)
