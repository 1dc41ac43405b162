package routing

import (
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

type providerSet map[string]bool

func (s providerSet) Has(id string) bool { return s[id] }

func createTestPolicy(t *testing.T) *Policy {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	policy, err := NewPolicy(Config{
		DefaultProvider:    "openai",
		ResilienceProvider: "groq",
		Features: map[string]string{
			"curriculum-mapping": "gemini",
			"exam-generation":    "anthropic",
			"simulation":         "anthropic",
			"translation":        "openai",
			"fast":               "groq",
		},
	}, providerSet{"openai": true, "groq": true, "gemini": true, "anthropic": true, "providerX": true}, logger)
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}
	return policy
}

func TestPolicy_ResolveChain(t *testing.T) {
	policy := createTestPolicy(t)

	tests := []struct {
		name      string
		feature   string
		modelHint string
		expected  Chain
	}{
		{"registered hint is exclusive", "exam-generation", "providerX", Chain{"providerX"}},
		{"hint equal to resilience", "general", "groq", Chain{"groq"}},
		{"feature table primary", "curriculum-mapping", "", Chain{"gemini", "groq"}},
		{"exam routes to anthropic", "exam-generation", "", Chain{"anthropic", "groq"}},
		{"unknown feature uses default", "poetry", "", Chain{"openai", "groq"}},
		{"empty feature uses default", "", "", Chain{"openai", "groq"}},
		{"primary is resilience", "fast", "", Chain{"groq"}},
		{"unregistered hint ignored", "simulation", "nope", Chain{"anthropic", "groq"}},
		{"match is exact", "Exam-Generation", "", Chain{"openai", "groq"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := policy.ResolveChain(tt.feature, tt.modelHint)
			if !reflect.DeepEqual(chain, tt.expected) {
				t.Errorf("Expected chain %v, got %v", tt.expected, chain)
			}
		})
	}
}

func TestPolicy_DecideReasoning(t *testing.T) {
	policy := createTestPolicy(t)

	decision := policy.Decide("simulation", "missing")

	if decision.SelectedProvider != "anthropic" {
		t.Errorf("Expected selected provider 'anthropic', got %s", decision.SelectedProvider)
	}
	if decision.RoutingContext.Strategy != StrategyFeatureTable {
		t.Errorf("Expected strategy %s, got %s", StrategyFeatureTable, decision.RoutingContext.Strategy)
	}
	if len(decision.Reasoning) != 3 {
		t.Fatalf("Expected 3 reasoning lines, got %d: %v", len(decision.Reasoning), decision.Reasoning)
	}
	if !strings.Contains(decision.Reasoning[0], "not registered") {
		t.Errorf("Expected first reason to mention ignored hint, got %q", decision.Reasoning[0])
	}
	if decision.RoutingContext.Timestamp.IsZero() {
		t.Error("Expected decision timestamp to be set")
	}

	hinted := policy.Decide("general", "providerX")
	if hinted.RoutingContext.Strategy != StrategyModelHint {
		t.Errorf("Expected strategy %s, got %s", StrategyModelHint, hinted.RoutingContext.Strategy)
	}
}

func TestPolicy_ChainsAreDeduplicated(t *testing.T) {
	policy := createTestPolicy(t)

	for _, feature := range []string{"curriculum-mapping", "exam-generation", "fast", "general"} {
		chain := policy.ResolveChain(feature, "")
		seen := make(map[string]bool)
		for _, id := range chain {
			if seen[id] {
				t.Errorf("Chain %v for %s contains duplicate %s", chain, feature, id)
			}
			seen[id] = true
		}
		if len(chain) == 0 {
			t.Errorf("Chain for %s is empty", feature)
		}
	}
}

func TestNewPolicy_ValidatesProviders(t *testing.T) {
	logger := logrus.New()
	registered := providerSet{"openai": true, "groq": true}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing default", Config{}, "default provider must be set"},
		{"unknown default", Config{DefaultProvider: "gemini"}, "default provider"},
		{"unknown resilience", Config{DefaultProvider: "openai", ResilienceProvider: "x"}, "resilience provider"},
		{
			"unknown feature target",
			Config{DefaultProvider: "openai", Features: map[string]string{"exam-generation": "anthropic"}},
			"unregistered provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.cfg, registered, logger)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestPolicy_WithoutResilience(t *testing.T) {
	policy, err := NewPolicy(Config{DefaultProvider: "openai"}, providerSet{"openai": true}, logrus.New())
	if err != nil {
		t.Fatalf("NewPolicy failed: %v", err)
	}

	chain := policy.ResolveChain("general", "")
	if !reflect.DeepEqual(chain, Chain{"openai"}) {
		t.Errorf("Expected [openai], got %v", chain)
	}
}

func TestChain_Contains(t *testing.T) {
	chain := Chain{"a", "b"}
	if !chain.Contains("b") || chain.Contains("c") {
		t.Errorf("Contains returned wrong result for %v", chain)
	}
}
