// Package llm talks to an OpenAI-compatible chat completions endpoint.
// It exposes blocking completion for internal summarization calls and a
// streaming interface that surfaces content deltas and assembled tool
// calls to the agent loop.
package llm

import "fmt"

// Message is one entry in a chat transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model request to invoke a registered tool. Arguments is
// the raw JSON string exactly as the model produced it; the agent loop
// owns decoding and its failure policy.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec describes a callable tool in the wire format the completions
// API expects.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChunkKind discriminates StreamChunk variants.
type ChunkKind int

const (
	// KindContent carries a visible text delta.
	KindContent ChunkKind = iota
	// KindReasoning carries a reasoning-trace delta, when the model emits one.
	KindReasoning
	// KindToolCalls carries the fully assembled tool calls for a round.
	KindToolCalls
	// KindFinal marks the end of a successful stream.
	KindFinal
	// KindError marks stream failure; no further chunks follow.
	KindError
)

func (k ChunkKind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindReasoning:
		return "reasoning"
	case KindToolCalls:
		return "tool_calls"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("ChunkKind(%d)", int(k))
	}
}

// StreamChunk is one event from a model stream. Exactly one payload
// field is meaningful, selected by Kind.
type StreamChunk struct {
	Kind      ChunkKind
	Delta     string
	ToolCalls []ToolCall
	Err       error
}

// TransportError wraps a network or HTTP-level failure reaching the
// model endpoint, as opposed to a malformed payload inside a healthy
// stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
