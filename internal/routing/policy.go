package routing

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	StrategyModelHint    = "model_hint"
	StrategyFeatureTable = "feature_table"
	StrategyDefault      = "default"
)

// Config holds the feature table and the two fixed provider ids
type Config struct {
	DefaultProvider    string            `yaml:"default_provider"`
	ResilienceProvider string            `yaml:"resilience_provider"`
	Features           map[string]string `yaml:"features"`
}

// ProviderSet is the part of the registry the policy depends on
type ProviderSet interface {
	Has(id string) bool
}

// Policy maps (feature, model hint) onto a fallback chain. It holds no
// mutable state after construction.
type Policy struct {
	defaultProvider    string
	resilienceProvider string
	features           map[string]string
	providers          ProviderSet
	logger             *logrus.Logger
}

// NewPolicy validates every referenced provider id against the registry
func NewPolicy(cfg Config, providers ProviderSet, logger *logrus.Logger) (*Policy, error) {
	if cfg.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider must be set")
	}
	if !providers.Has(cfg.DefaultProvider) {
		return nil, fmt.Errorf("default provider %q is not registered", cfg.DefaultProvider)
	}
	if cfg.ResilienceProvider != "" && !providers.Has(cfg.ResilienceProvider) {
		return nil, fmt.Errorf("resilience provider %q is not registered", cfg.ResilienceProvider)
	}

	features := make(map[string]string, len(cfg.Features))
	for _, feature := range sortedKeys(cfg.Features) {
		id := cfg.Features[feature]
		if !providers.Has(id) {
			return nil, fmt.Errorf("feature %q routes to unregistered provider %q", feature, id)
		}
		features[feature] = id
	}

	logger.WithFields(logrus.Fields{
		"default":    cfg.DefaultProvider,
		"resilience": cfg.ResilienceProvider,
		"features":   len(features),
	}).Info("Routing policy loaded")

	return &Policy{
		defaultProvider:    cfg.DefaultProvider,
		resilienceProvider: cfg.ResilienceProvider,
		features:           features,
		providers:          providers,
		logger:             logger,
	}, nil
}

// ResolveChain returns the providers to try, in order
func (p *Policy) ResolveChain(feature, modelHint string) Chain {
	return p.Decide(feature, modelHint).FallbackChain
}

// Decide resolves the chain and explains how it was chosen
func (p *Policy) Decide(feature, modelHint string) *RoutingDecision {
	decision := &RoutingDecision{
		RoutingContext: RoutingContext{
			Feature:   feature,
			ModelHint: modelHint,
			Timestamp: time.Now().UTC(),
		},
	}

	if modelHint != "" {
		if p.providers.Has(modelHint) {
			decision.SelectedProvider = modelHint
			decision.FallbackChain = Chain{modelHint}
			decision.RoutingContext.Strategy = StrategyModelHint
			decision.Reasoning = append(decision.Reasoning,
				fmt.Sprintf("model hint %s is registered; using it exclusively", modelHint))
			p.logDecision(decision)
			return decision
		}
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("model hint %s is not registered; ignored", modelHint))
	}

	primary, ok := p.features[feature]
	if ok {
		decision.RoutingContext.Strategy = StrategyFeatureTable
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("feature %s maps to %s", feature, primary))
	} else {
		primary = p.defaultProvider
		decision.RoutingContext.Strategy = StrategyDefault
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("feature %s has no mapping; using default %s", feature, primary))
	}

	decision.SelectedProvider = primary
	decision.FallbackChain = Chain{primary}

	if p.resilienceProvider != "" && !decision.FallbackChain.Contains(p.resilienceProvider) {
		decision.FallbackChain = append(decision.FallbackChain, p.resilienceProvider)
		decision.Reasoning = append(decision.Reasoning,
			fmt.Sprintf("resilience provider %s appended", p.resilienceProvider))
	}

	p.logDecision(decision)
	return decision
}

// Features returns a copy of the feature table
func (p *Policy) Features() map[string]string {
	out := make(map[string]string, len(p.features))
	for k, v := range p.features {
		out[k] = v
	}
	return out
}

func (p *Policy) logDecision(decision *RoutingDecision) {
	p.logger.WithFields(logrus.Fields{
		"feature":  decision.RoutingContext.Feature,
		"strategy": decision.RoutingContext.Strategy,
		"chain":    decision.FallbackChain,
	}).Debug("Request routed")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
