// Package routing resolves which upstream provider serves a request.
//
// A request may name its provider explicitly (manual routing) or leave the
// choice to the model prefix table (automatic routing). The resolver is the
// only component that knows the mapping; everything downstream works with
// the resolved Decision.
package routing

import (
	"fmt"
	"strings"
)

// Strategy identifies how a decision was made.
type Strategy string

const (
	// StrategyManual means the request named the provider explicitly.
	StrategyManual Strategy = "manual"

	// StrategyPrefix means the model prefix table chose the provider.
	StrategyPrefix Strategy = "prefix"

	// StrategyDefault means the fallback provider was used.
	StrategyDefault Strategy = "default"
)

// Decision is a resolved route.
type Decision struct {
	// Provider is the upstream that will serve the request.
	Provider string

	// Model is the model to request from the provider.
	Model string

	// Strategy is how the provider was chosen.
	Strategy Strategy
}

// Rule maps a model name prefix to a provider.
type Rule struct {
	// ModelPrefix matches models by prefix, e.g. "llama" or "gpt-4".
	ModelPrefix string `yaml:"model_prefix"`

	// Provider is the provider name for matching models.
	Provider string `yaml:"provider"`
}

// UnroutableError is returned when no rule or default covers a model.
type UnroutableError struct {
	// Model is the model that could not be routed.
	Model string
}

// Error implements the error interface.
func (e *UnroutableError) Error() string {
	return fmt.Sprintf("no provider configured for model %q", e.Model)
}

// Resolver resolves providers from an ordered rule table.
//
// Rules are evaluated in declaration order and the first matching prefix
// wins, so more specific prefixes must be listed before general ones.
// The resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	rules           []Rule
	defaultProvider string
}

// NewResolver creates a resolver. defaultProvider may be empty, in which
// case unmatched models are unroutable.
func NewResolver(rules []Rule, defaultProvider string) *Resolver {
	return &Resolver{
		rules:           rules,
		defaultProvider: defaultProvider,
	}
}

// Resolve routes a request. A non-empty requestedProvider short-circuits the
// table; otherwise the first rule whose prefix matches the model wins, then
// the default provider, then an UnroutableError.
func (r *Resolver) Resolve(requestedProvider, model string) (Decision, error) {
	if model == "" {
		return Decision{}, fmt.Errorf("model must not be empty")
	}

	if requestedProvider != "" {
		return Decision{
			Provider: requestedProvider,
			Model:    model,
			Strategy: StrategyManual,
		}, nil
	}

	for _, rule := range r.rules {
		if strings.HasPrefix(model, rule.ModelPrefix) {
			return Decision{
				Provider: rule.Provider,
				Model:    model,
				Strategy: StrategyPrefix,
			}, nil
		}
	}

	if r.defaultProvider != "" {
		return Decision{
			Provider: r.defaultProvider,
			Model:    model,
			Strategy: StrategyDefault,
		}, nil
	}

	return Decision{}, &UnroutableError{Model: model}
}
