// Package generic implements an adapter for OpenAI-compatible upstreams.
// It works against any server that speaks the OpenAI chat completions wire
// format, such as Ollama, vLLM, LM Studio, or OpenAI itself.
package generic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/providers"
)

// Provider is an OpenAI-compatible provider adapter.
// It translates the gateway's provider-agnostic requests into the OpenAI
// chat completions format and normalizes the SSE stream back into
// StreamChunk values.
type Provider struct {
	*providers.HTTPClient

	logger *slog.Logger
}

// NewProvider creates an OpenAI-compatible provider instance.
// The API key is optional; local upstreams typically run without one.
func NewProvider(config providers.ProviderConfig) (*Provider, error) {
	if config.Name == "" {
		return nil, &providers.ConfigError{
			Provider: "generic",
			Field:    "name",
			Message:  "provider name is required",
		}
	}
	if config.BaseURL == "" {
		return nil, &providers.ConfigError{
			Provider: config.Name,
			Field:    "base_url",
			Message:  "base URL is required",
		}
	}

	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 5
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}

	p := &Provider{
		HTTPClient: providers.NewHTTPClient(config),
		logger:     slog.Default().With("component", "provider", "provider", config.Name),
	}

	p.logger.Info("OpenAI-compatible provider initialized",
		"base_url", config.BaseURL,
	)

	return p, nil
}

// wireRequest is the OpenAI chat completions request body.
type wireRequest struct {
	Model       string              `json:"model"`
	Messages    []providers.Message `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Stream      bool                `json:"stream"`
}

// wireStreamChunk is one parsed SSE data frame from the upstream.
type wireStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *providers.TokenUsage `json:"usage,omitempty"`
}

// StreamCompletion sends a streaming completion request to the upstream.
//
// The HTTP request is performed synchronously so that connection and status
// errors surface as the return error. Once the stream is open, a goroutine
// reads SSE frames and feeds the returned channel until the upstream sends
// its terminator, the stream breaks, or the context is cancelled. The channel
// is always closed when the goroutine exits.
func (p *Provider) StreamCompletion(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.StreamChunk, error) {
	wire := &wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	bodyBytes, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.GetConfig().BaseURL, "/") + "/v1/chat/completions"

	headers := map[string]string{
		"Accept": "text/event-stream",
	}
	if key := p.GetConfig().APIKey; key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	resp, err := p.DoRequest(ctx, "POST", url, bodyBytes, headers)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *providers.StreamChunk)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		// Allow frames larger than the default 64KB scanner limit.
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				// Skip comments and non-data fields.
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var wireChunk wireStreamChunk
			if err := json.Unmarshal([]byte(data), &wireChunk); err != nil {
				p.sendError(ctx, chunks, &providers.ParseError{
					Provider:    p.GetName(),
					RawResponse: data,
					Cause:       fmt.Errorf("failed to parse stream chunk: %w", err),
				})
				return
			}

			chunk := p.transformChunk(&wireChunk)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			p.sendError(ctx, chunks, &providers.StreamError{
				Provider: p.GetName(),
				Message:  "failed to read stream",
				Cause:    err,
			})
			return
		}

		// The upstream closed the connection without its [DONE] terminator.
		// Whatever arrived so far is incomplete and must not pass as a
		// finished response.
		if ctx.Err() == nil {
			p.sendError(ctx, chunks, &providers.StreamError{
				Provider: p.GetName(),
				Message:  "stream closed before completion",
				Cause:    io.ErrUnexpectedEOF,
			})
		}
	}()

	return chunks, nil
}

// transformChunk converts a wire frame into the provider-agnostic format.
func (p *Provider) transformChunk(wire *wireStreamChunk) *providers.StreamChunk {
	chunk := &providers.StreamChunk{
		ID:      wire.ID,
		Model:   wire.Model,
		Created: wire.Created,
		Usage:   wire.Usage,
	}
	if len(wire.Choices) > 0 {
		chunk.Delta = wire.Choices[0].Delta.Content
		if fr := wire.Choices[0].FinishReason; fr != nil {
			chunk.FinishReason = *fr
		}
	}
	return chunk
}

// sendError delivers a terminal error chunk unless the consumer is gone.
func (p *Provider) sendError(ctx context.Context, chunks chan<- *providers.StreamChunk, err error) {
	select {
	case chunks <- &providers.StreamChunk{Error: err, Created: time.Now().Unix()}:
	case <-ctx.Done():
	}
}
