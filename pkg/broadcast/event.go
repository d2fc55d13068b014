package broadcast

// EventType identifies a stream event kind.
type EventType string

const (
	// EventMeta is the first event of every stream. It carries response
	// identity so subscribers can correlate and cancel.
	EventMeta EventType = "meta"

	// EventDelta carries an incremental piece of assistant output.
	EventDelta EventType = "delta"

	// EventDone terminates a successful stream.
	EventDone EventType = "done"

	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// Meta is the payload of the meta event.
type Meta struct {
	// RequestID identifies the upstream response shared by all subscribers.
	RequestID string `json:"request_id"`

	// ThreadID is the conversation thread.
	ThreadID string `json:"thread_id"`

	// Provider is the upstream serving the request.
	Provider string `json:"provider"`

	// Model is the model serving the request.
	Model string `json:"model"`
}

// Done is the payload of the done event.
type Done struct {
	// FinishReason is why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	// PromptTokens and CompletionTokens are upstream-reported usage,
	// zero when the upstream does not report usage.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// Event is one element of a stream's event sequence. Exactly one payload
// field is meaningful, selected by Type.
type Event struct {
	// Type is the event kind.
	Type EventType `json:"type"`

	// Meta is set for meta events.
	Meta *Meta `json:"meta,omitempty"`

	// Delta is set for delta events.
	Delta string `json:"delta,omitempty"`

	// Done is set for done events.
	Done *Done `json:"done,omitempty"`

	// Error is set for error events. It is a client-safe message, not the
	// raw upstream error.
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
