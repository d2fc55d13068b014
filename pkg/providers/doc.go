// Package providers implements the abstract upstream LLM provider boundary.
//
// # Overview
//
// The gateway core never speaks a provider wire format directly. It builds a
// provider-agnostic CompletionRequest, hands it to a Provider, and consumes a
// channel of normalized StreamChunk values. Concrete adapters (see the generic
// subpackage) translate to and from whatever the upstream actually speaks.
//
// # Streaming
//
//	req := &providers.CompletionRequest{
//	    Model: "llama-3",
//	    Messages: []providers.Message{
//	        {Role: "user", Content: "Write a poem"},
//	    },
//	    Stream: true,
//	}
//
//	chunks, err := provider.StreamCompletion(ctx, req)
//	if err != nil {
//	    return err
//	}
//	for chunk := range chunks {
//	    if chunk.Error != nil {
//	        return chunk.Error
//	    }
//	    fmt.Print(chunk.Delta)
//	}
//
// # Error Handling
//
// The package defines specific error types for common failure scenarios:
//
//   - ProviderError: General provider errors
//   - AuthError: Authentication failures (HTTP 401/403)
//   - RateLimitError: Rate limit exceeded (HTTP 429)
//   - TimeoutError: Request timeout
//   - ParseError: Response parsing failure
//   - StreamError: Mid-stream failure
//   - ConfigError: Invalid provider configuration
//
// # Thread Safety
//
// All provider implementations and the Set are thread-safe and can be used
// concurrently from multiple goroutines.
package providers
