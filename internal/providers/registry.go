package providers

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

// Registry is the immutable table of configured providers. It is populated
// once by NewRegistry and only read afterwards.
type Registry struct {
	adapters map[string]Adapter
	ids      []string
}

// NewRegistry builds one adapter per config using the factory for its kind
func NewRegistry(configs []Config, factories Factories, logger *logrus.Logger) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(configs)),
		ids:      make([]string, 0, len(configs)),
	}

	for _, cfg := range configs {
		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			return nil, fmt.Errorf("provider id cannot be empty")
		}
		if id == types.FallbackProvider {
			return nil, fmt.Errorf("provider id %q is reserved", id)
		}
		if _, exists := r.adapters[id]; exists {
			return nil, fmt.Errorf("duplicate provider id: %s", id)
		}

		factory, ok := factories[cfg.Kind]
		if !ok {
			return nil, fmt.Errorf("provider %s: unsupported kind %q", id, cfg.Kind)
		}

		cfg.ID = id
		adapter, err := factory(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", id, err)
		}

		r.adapters[id] = adapter
		r.ids = append(r.ids, id)

		fields := logrus.Fields{
			"provider": id,
			"kind":     cfg.Kind,
			"model":    cfg.Model,
		}
		if cfg.HasCredential() {
			logger.WithFields(fields).Info("Provider registered")
		} else {
			logger.WithFields(fields).WithField("credential_ref", cfg.CredentialRef).
				Warn("Provider registered without credential; calls will be skipped")
		}
	}

	if len(r.ids) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	return r, nil
}

// Lookup returns the adapter registered under id
func (r *Registry) Lookup(id string) (Adapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return adapter, nil
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.adapters[id]
	return ok
}

// IDs returns provider ids in configuration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)
	return ids
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	return len(r.ids)
}

// Describe returns a credential-free view of every provider
func (r *Registry) Describe() []types.ProviderDescriptor {
	out := make([]types.ProviderDescriptor, 0, len(r.ids))
	for _, id := range r.ids {
		cfg := r.adapters[id].Config()
		out = append(out, types.ProviderDescriptor{
			ID:                   id,
			Kind:                 cfg.Kind,
			Model:                cfg.Model,
			Endpoint:             cfg.Endpoint,
			CredentialRef:        cfg.CredentialRef,
			CredentialConfigured: cfg.HasCredential(),
			Timeout:              cfg.Timeout,
		})
	}
	return out
}
