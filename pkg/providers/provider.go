package providers

import "context"

// Provider is the core interface that all LLM provider adapters must implement.
// It provides a unified abstraction for interacting with different upstream
// providers (OpenAI-compatible servers, local models, test doubles).
//
// All methods accept a context.Context for cancellation and timeout control.
// Implementations must respect context cancellation and return promptly when
// the context is cancelled.
type Provider interface {
	// StreamCompletion sends a streaming completion request to the provider.
	// It returns a channel that yields incremental response chunks as they arrive.
	//
	// The caller must read from the channel until it closes. If an error occurs
	// during streaming, it is set in the Error field of the final StreamChunk.
	//
	// The context is used for cancellation. If the context is cancelled, the
	// stream is closed and no more chunks are sent.
	StreamCompletion(ctx context.Context, req *CompletionRequest) (<-chan *StreamChunk, error)

	// GetName returns the provider's configured name (e.g., "openai", "ollama").
	GetName() string

	// Close closes the provider and releases any resources (HTTP connections).
	// After calling Close, the provider must not be used.
	Close() error
}

// Set is a read-only collection of configured providers, keyed by name.
// It is the gateway's view of "which upstreams exist".
type Set interface {
	// Get returns the provider with the given name.
	Get(name string) (Provider, error)

	// Names returns the names of all configured providers.
	Names() []string
}
