package brain

import "github.com/voxtail/voxtail/pkg/types"

// UpdateKind discriminates Update events.
type UpdateKind string

const (
	// UpdateThought carries incremental reasoning text in Delta.
	UpdateThought UpdateKind = "thought"

	// UpdateText carries incremental reply text in Delta.
	UpdateText UpdateKind = "text"

	// UpdateToolCallStart announces a new tool call. Name is set; arguments
	// follow as UpdateToolCallArgs deltas.
	UpdateToolCallStart UpdateKind = "tool_call_start"

	// UpdateToolCallArgs carries the next fragment of a call's argument JSON
	// in Delta.
	UpdateToolCallArgs UpdateKind = "tool_call_args"

	// UpdateToolCallEnd marks a call's arguments complete and its invocation
	// starting. Name and Arguments are final; Status is StatusExecuting.
	UpdateToolCallEnd UpdateKind = "tool_call_end"

	// UpdateToolResult carries a call's outcome in Content (truncated for the
	// client) with Status success or error.
	UpdateToolResult UpdateKind = "tool_result"

	// UpdateError reports that the LLM stream failed or stalled. Status is
	// StatusError; the synthetic fallback reply follows as an UpdateText
	// delta and the turn still closes with UpdateTurnEnd.
	UpdateError UpdateKind = "error"

	// UpdateTurnEnd marks the reply complete. Language carries the language
	// the spoken reply should use.
	UpdateTurnEnd UpdateKind = "turn_end"
)

// Tool call status values, in progression order.
const (
	StatusCalling   = "calling"
	StatusExecuting = "executing"
	StatusSuccess   = "success"
	StatusError     = "error"
)

// Update is one event of a streamed reply. MsgID identifies the reply; Turn
// is the zero-based reasoning iteration within it; Index identifies a tool
// call within its turn. Remaining fields are populated per Kind.
type Update struct {
	Kind  UpdateKind
	MsgID string
	Turn  int
	Index int

	// Delta is incremental text for thought, text, and tool_call_args events.
	Delta string

	// Name is the tool name on tool call and result events.
	Name string

	// Arguments is the complete argument JSON on tool_call_end events.
	Arguments string

	// Content is the tool outcome on tool_result events.
	Content string

	// Status is one of the Status constants on tool call and result events.
	Status string

	// Language is the reply language on turn_end events.
	Language types.Language
}
