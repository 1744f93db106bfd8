// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (an OpenAI-compatible
// endpoint such as OpenRouter, or any backend reachable through any-llm-go)
// and exposes a uniform streaming interface for the reasoning loop without
// coupling it to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/voxtail/voxtail/pkg/types"
)

// FinishReason values set on the final chunk of a stream.
const (
	// FinishStop marks a natural end of generation.
	FinishStop = "stop"

	// FinishLength marks a MaxTokens cutoff.
	FinishLength = "length"

	// FinishToolCalls marks a turn that ends with tool invocations.
	FinishToolCalls = "tool_calls"

	// FinishError marks a stream that failed after it was opened; the chunk's
	// Text carries the failure description.
	FinishError = "error"
)

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// Tools is the set of tool definitions offered to the model. The model
	// may choose to call one or more of them in its response.
	Tools []types.ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// SystemPrompt is a high-priority instruction injected before the
	// conversation history. Providers without a dedicated system slot prepend
	// it as a "system"-role message.
	SystemPrompt string
}

// ToolCallDelta is one streamed fragment of a tool invocation. Models deliver
// tool calls in pieces — typically the ID and name first, then the argument
// JSON spread over many fragments — keyed by Index so parallel calls within
// one turn stay separable. Consumers accumulate fragments per index.
type ToolCallDelta struct {
	// Index identifies which call within the current turn this fragment
	// belongs to. Zero-based, in declaration order.
	Index int

	// ID is the provider-assigned call identifier. Usually present only on
	// the first fragment of a call.
	ID string

	// Name is the tool name. Usually present only on the first fragment.
	Name string

	// ArgsDelta is the next piece of the argument JSON string.
	ArgsDelta string
}

// Chunk is a single event emitted by a streaming completion. A chunk may
// carry reasoning text, reply text, tool-call fragments, a finish signal, or
// any combination; consumers must handle all fields.
type Chunk struct {
	// Thought is incremental reasoning text for models that expose it.
	// Thoughts are never part of the reply and never enter history.
	Thought string

	// Text is the incremental reply text of this chunk.
	Text string

	// ToolCalls carries tool-call fragments in stream order.
	ToolCalls []ToolCallDelta

	// FinishReason is set on the final chunk; see the Finish constants.
	// Empty on non-final chunks.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the
	// model responds exclusively with tool calls.
	Content string

	// ToolCalls lists the complete tool invocations requested by the model.
	ToolCalls []types.ToolCall
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly: when ctx is cancelled the
// method must return (or close its channel) as quickly as possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a final Chunk with
	// FinishReason [FinishError]; the initial error return is non-nil only
	// for failures that prevent the stream from starting.
	//
	// The returned channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response. A convenience
	// wrapper for callers that do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
