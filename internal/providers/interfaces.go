package providers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

// Config describes one upstream provider. Credential is resolved from the
// environment variable named by CredentialRef and never serialized.
type Config struct {
	ID            string        `yaml:"id"`
	Kind          string        `yaml:"kind"`
	Endpoint      string        `yaml:"endpoint"`
	CredentialRef string        `yaml:"credential_ref"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float32       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`

	Credential string `yaml:"-" json:"-"`
}

// HasCredential reports whether a non-empty credential was resolved
func (c Config) HasCredential() bool {
	return c.Credential != ""
}

// Adapter is implemented by every provider kind
type Adapter interface {
	ID() string
	Config() Config
	Call(ctx context.Context, req *types.CompletionRequest) (string, error)
}

// Factory builds an adapter for a provider kind
type Factory func(cfg Config, logger *logrus.Logger) (Adapter, error)

// Factories maps a provider kind to its constructor
type Factories map[string]Factory
