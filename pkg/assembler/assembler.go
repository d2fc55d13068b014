package assembler

import (
	"context"
	"fmt"
	"log/slog"

	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/retry"
	"mercator-hq/ganymede/pkg/thread"
	"mercator-hq/ganymede/pkg/tokens"
)

// Source identifies which tier served a bundle's history.
type Source string

const (
	// SourceCache means history came from the history cache.
	SourceCache Source = "cache"

	// SourceStore means history came from the durable turn store.
	SourceStore Source = "store"

	// SourceDegraded means no history could be fetched and the bundle
	// contains only the system prompt and the new user turn.
	SourceDegraded Source = "degraded"
)

// Bundle is an assembled model context, ready to send upstream.
type Bundle struct {
	// Messages is the ordered context: system prompt first (when set),
	// history in sequence order, the new user turn last.
	Messages []providers.Message

	// HistoryTurns is the number of history turns included.
	HistoryTurns int

	// Source is the tier that served the history.
	Source Source

	// EstimatedTokens is the estimated prompt token count of Messages.
	EstimatedTokens int
}

// Config contains assembler configuration.
type Config struct {
	// MaxHistoryTurns caps how many history turns are fetched per request.
	// Default: 50
	MaxHistoryTurns int `yaml:"max_history_turns"`

	// MaxContextTokens caps the estimated prompt size. Oldest history turns
	// are dropped first to fit; the system prompt and the new user turn are
	// never dropped. Zero disables the cap.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// Assembler builds model context bundles from the history cache and the
// durable turn store.
//
// # Thread Safety
//
// The assembler is stateless between calls and safe for concurrent use.
type Assembler struct {
	reader    thread.Reader
	cache     HistoryCache
	estimator tokens.Estimator
	config    Config
	policy    retry.Policy
	logger    *slog.Logger
}

// New creates an assembler. The cache may be nil, in which case every
// request reads the store directly.
func New(reader thread.Reader, cache HistoryCache, estimator tokens.Estimator, config Config, policy retry.Policy) *Assembler {
	if config.MaxHistoryTurns <= 0 {
		config.MaxHistoryTurns = 50
	}
	return &Assembler{
		reader:    reader,
		cache:     cache,
		estimator: estimator,
		config:    config,
		policy:    policy,
		logger:    slog.Default().With("component", "assembler"),
	}
}

// Assemble builds the context bundle for a new user turn on the given thread.
//
// # Algorithm
//
//  1. Try the history cache. A hit serves immediately.
//  2. On miss or cache error, read the turn store under the retry budget
//     and refill the cache on success.
//  3. If the store is unreachable within the budget, degrade: assemble with
//     no history rather than fail the request.
//
// Malformed history turns (missing role or empty content) are excluded one
// by one; the remaining history is kept. The resulting bundle is validated
// and, if invalid, rebuilt in its minimal degraded form. Assemble only
// returns an error for invalid input.
func (a *Assembler) Assemble(ctx context.Context, threadID, systemPrompt, userContent, model string) (*Bundle, error) {
	if userContent == "" {
		return nil, fmt.Errorf("user content must not be empty")
	}

	history, source := a.fetchHistory(ctx, threadID)
	history = a.dropMalformed(threadID, history)

	bundle := a.build(history, systemPrompt, userContent, model, source)

	if err := a.validate(bundle, systemPrompt, userContent); err != nil {
		a.logger.Warn("assembled bundle failed validation, rebuilding minimal",
			"thread_id", threadID,
			"source", source,
			"error", err,
		)
		bundle = a.build(nil, systemPrompt, userContent, model, SourceDegraded)
	}

	return bundle, nil
}

// fetchHistory walks the lookup tiers and returns whatever history it could
// get, together with the tier that served it.
func (a *Assembler) fetchHistory(ctx context.Context, threadID string) ([]thread.Turn, Source) {
	if threadID == "" {
		return nil, SourceDegraded
	}

	if a.cache != nil {
		turns, err := a.cache.Get(ctx, threadID, a.config.MaxHistoryTurns)
		if err == nil {
			return turns, SourceCache
		}
		if err != ErrCacheMiss {
			a.logger.Warn("history cache error, falling back to store",
				"thread_id", threadID, "error", err)
		}
	}

	turns, err := retry.Do(ctx, a.policy, func() ([]thread.Turn, error) {
		return a.reader.RecentTurns(ctx, threadID, a.config.MaxHistoryTurns)
	})
	if err != nil {
		a.logger.Error("turn store unreachable, assembling degraded context",
			"thread_id", threadID, "error", err)
		return nil, SourceDegraded
	}

	if a.cache != nil && len(turns) > 0 {
		if cacheErr := a.cache.Put(ctx, threadID, turns); cacheErr != nil {
			a.logger.Warn("history cache refill failed",
				"thread_id", threadID, "error", cacheErr)
		}
	}

	return turns, SourceStore
}

// dropMalformed excludes history turns that cannot go upstream. A missing
// role or empty content invalidates only that turn, never the rest of the
// loaded history.
func (a *Assembler) dropMalformed(threadID string, history []thread.Turn) []thread.Turn {
	kept := make([]thread.Turn, 0, len(history))
	for _, turn := range history {
		if turn.Content == "" {
			continue
		}
		if turn.Role != thread.RoleUser && turn.Role != thread.RoleAssistant {
			continue
		}
		kept = append(kept, turn)
	}
	if dropped := len(history) - len(kept); dropped > 0 {
		a.logger.Warn("excluded malformed history turns",
			"thread_id", threadID, "dropped", dropped)
	}
	return kept
}

// build constructs the message bundle and trims history to the token budget.
func (a *Assembler) build(history []thread.Turn, systemPrompt, userContent, model string, source Source) *Bundle {
	for {
		messages := make([]providers.Message, 0, len(history)+2)
		if systemPrompt != "" {
			messages = append(messages, providers.Message{
				Role:    providers.RoleSystem,
				Content: systemPrompt,
			})
		}
		for _, turn := range history {
			messages = append(messages, providers.Message{
				Role:    turn.Role,
				Content: turn.Content,
			})
		}
		messages = append(messages, providers.Message{
			Role:    providers.RoleUser,
			Content: userContent,
		})

		estimated := a.estimator.EstimateMessages(messages, model)
		if a.config.MaxContextTokens <= 0 || estimated <= a.config.MaxContextTokens || len(history) == 0 {
			return &Bundle{
				Messages:        messages,
				HistoryTurns:    len(history),
				Source:          source,
				EstimatedTokens: estimated,
			}
		}

		// Over budget: drop the oldest history turn and rebuild.
		history = history[1:]
	}
}

// validate checks bundle shape before it is sent upstream.
func (a *Assembler) validate(bundle *Bundle, systemPrompt, userContent string) error {
	if len(bundle.Messages) == 0 {
		return fmt.Errorf("empty bundle")
	}

	for i, msg := range bundle.Messages {
		if msg.Content == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
		switch msg.Role {
		case providers.RoleSystem:
			if i != 0 {
				return fmt.Errorf("system message at position %d", i)
			}
		case providers.RoleUser, providers.RoleAssistant:
		default:
			return fmt.Errorf("message %d has unknown role %q", i, msg.Role)
		}
	}

	if systemPrompt != "" && bundle.Messages[0].Role != providers.RoleSystem {
		return fmt.Errorf("missing leading system message")
	}

	last := bundle.Messages[len(bundle.Messages)-1]
	if last.Role != providers.RoleUser || last.Content != userContent {
		return fmt.Errorf("bundle does not end with the new user turn")
	}

	return nil
}
