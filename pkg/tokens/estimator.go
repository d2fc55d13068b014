// Package tokens provides token estimation for context assembly.
//
// The assembler uses estimates to keep assembled context inside the model's
// window; exact counts are not needed, so a fast character-based estimator
// with model-specific ratios is sufficient.
package tokens

import (
	"strings"

	"mercator-hq/ganymede/pkg/providers"
)

// Estimator estimates token counts for text and messages.
type Estimator interface {
	// EstimateText estimates tokens for a single text string.
	EstimateText(text string, model string) int

	// EstimateMessages estimates prompt tokens for a list of messages,
	// including per-message formatting overhead.
	EstimateMessages(messages []providers.Message, model string) int
}

// defaultCharsPerToken is used when no model-specific ratio is configured.
const defaultCharsPerToken = 4.0

// Per-message and per-conversation formatting overhead, in tokens.
const (
	messageOverhead      = 4
	conversationOverhead = 3
)

// SimpleEstimator implements character-based token estimation with
// model-specific characters-per-token ratios. It is stateless after
// construction and safe for concurrent use.
type SimpleEstimator struct {
	// ratios maps a model name prefix to its characters-per-token ratio.
	ratios map[string]float64
}

// NewSimpleEstimator creates a character-based estimator.
// The ratios map keys are matched as model name prefixes, so "gpt-4"
// covers "gpt-4o-mini". A nil map uses the default ratio for all models.
func NewSimpleEstimator(ratios map[string]float64) *SimpleEstimator {
	return &SimpleEstimator{ratios: ratios}
}

// EstimateText implements Estimator.
func (e *SimpleEstimator) EstimateText(text string, model string) int {
	if text == "" {
		return 0
	}

	tokens := float64(len(text)) / e.charsPerToken(model)
	if tokens < 1.0 {
		return 1
	}
	return int(tokens + 0.5)
}

// EstimateMessages implements Estimator.
func (e *SimpleEstimator) EstimateMessages(messages []providers.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}

	total := conversationOverhead
	for _, msg := range messages {
		total += messageOverhead
		total += e.EstimateText(msg.Content, model)
	}
	return total
}

func (e *SimpleEstimator) charsPerToken(model string) float64 {
	for prefix, ratio := range e.ratios {
		if strings.HasPrefix(model, prefix) {
			return ratio
		}
	}
	return defaultCharsPerToken
}

var _ Estimator = (*SimpleEstimator)(nil)
