// Package wire defines the JSON control-frame protocol shared with clients
// and the serialized writer that puts frames onto the transport.
//
// A connection carries two frame categories: binary frames holding raw
// Int16LE mono PCM, and text frames holding exactly one JSON object each.
// Text frames all share one shape:
//
//	{"type": "...", "content": "...", "is_final": bool,
//	 "metadata": {...}, "msg_id": "...", "session_id": "..."}
//
// Unknown fields are ignored on decode; unknown type values decode into the
// frame but are flagged with ErrUnknownType so callers can log and drop them
// without closing the connection.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/voxtail/voxtail/pkg/types"
)

// FrameType discriminates the JSON control frames.
type FrameType string

const (
	// FrameSignal carries lifecycle signals (server → client).
	FrameSignal FrameType = "signal"

	// FrameTranscript carries ASR output (server → client).
	FrameTranscript FrameType = "transcript"

	// FrameText carries assistant reply text deltas (server → client).
	FrameText FrameType = "text"

	// FrameUpdate carries reasoning progress: thoughts and tool activity
	// (server → client).
	FrameUpdate FrameType = "update"

	// FrameInput carries a typed user turn (client → server).
	FrameInput FrameType = "input"

	// FrameInterrupt requests cancellation of the current reply
	// (client → server).
	FrameInterrupt FrameType = "interrupt"
)

// IsValid reports whether t is a known frame type.
func (t FrameType) IsValid() bool {
	switch t {
	case FrameSignal, FrameTranscript, FrameText, FrameUpdate, FrameInput, FrameInterrupt:
		return true
	}
	return false
}

// Lifecycle signal contents.
const (
	SignalReady             = "ready"
	SignalProcessingStarted = "processing_started"
	SignalProcessingEnded   = "processing_ended"
)

// Update metadata update_type values.
const (
	UpdateThought    = "THOUGHT"
	UpdateToolCall   = "TOOL_CALL"
	UpdateToolResult = "TOOL_RESULT"
	UpdateError      = "ERROR"
)

// ErrUnknownType is returned by Decode alongside the decoded frame when the
// type value is not one of the defined FrameType constants.
var ErrUnknownType = fmt.Errorf("wire: unknown frame type")

// Frame is one JSON control frame. Metadata keys vary by frame type; see the
// constructor functions for the shapes the server emits.
type Frame struct {
	Type      FrameType      `json:"type"`
	Content   string         `json:"content,omitempty"`
	IsFinal   bool           `json:"is_final,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	MsgID     string         `json:"msg_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Encode marshals the frame to its JSON wire form.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses a JSON control frame. Unknown fields are ignored. A frame
// with an unrecognized type is returned together with ErrUnknownType.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	if !f.Type.IsValid() {
		return f, fmt.Errorf("%w: %q", ErrUnknownType, string(f.Type))
	}
	return f, nil
}

// NewSignal builds a lifecycle signal frame.
func NewSignal(content string) Frame {
	return Frame{Type: FrameSignal, Content: content}
}

// NewTranscript builds a transcript frame for ASR output.
func NewTranscript(tr types.Transcript) Frame {
	return Frame{
		Type:    FrameTranscript,
		Content: tr.Text,
		IsFinal: tr.IsFinal,
		Metadata: map[string]any{
			"language":   string(tr.Language),
			"confidence": tr.Confidence,
		},
	}
}

// NewTranscriptError builds the transcript frame emitted when ASR fails:
// empty text with the failure kind in metadata.
func NewTranscriptError(kind string) Frame {
	return Frame{
		Type:    FrameTranscript,
		Content: "",
		IsFinal: true,
		Metadata: map[string]any{
			"error": kind,
		},
	}
}

// NewText builds an assistant text delta frame.
func NewText(delta string, final bool, msgID string, turn int) Frame {
	return Frame{
		Type:    FrameText,
		Content: delta,
		IsFinal: final,
		MsgID:   msgID,
		Metadata: map[string]any{
			"turn": turn,
		},
	}
}

// NewThought builds a THOUGHT update frame.
func NewThought(delta string, msgID string, turn int) Frame {
	return Frame{
		Type:    FrameUpdate,
		Content: delta,
		MsgID:   msgID,
		Metadata: map[string]any{
			"update_type": UpdateThought,
			"turn":        turn,
		},
	}
}

// NewToolCall builds a TOOL_CALL update frame. Arguments carries whatever
// fragment of the call arguments is known at emission time; status tracks the
// call's progression ("calling", "executing").
func NewToolCall(msgID string, turn, index int, name, arguments, status string, final bool) Frame {
	return Frame{
		Type:    FrameUpdate,
		Content: "",
		IsFinal: final,
		MsgID:   msgID,
		Metadata: map[string]any{
			"update_type": UpdateToolCall,
			"turn":        turn,
			"index":       index,
			"name":        name,
			"arguments":   arguments,
			"status":      status,
		},
	}
}

// NewToolResult builds a TOOL_RESULT update frame. Content is the
// client-facing result text; status is "success" or "error".
func NewToolResult(msgID string, turn, index int, name, content, status string) Frame {
	return Frame{
		Type:    FrameUpdate,
		Content: content,
		IsFinal: true,
		MsgID:   msgID,
		Metadata: map[string]any{
			"update_type": UpdateToolResult,
			"turn":        turn,
			"index":       index,
			"name":        name,
			"status":      status,
		},
	}
}

// NewErrorUpdate builds the single ERROR update emitted when a reply's LLM
// stream fails. The spoken fallback text follows as ordinary text frames.
func NewErrorUpdate(msgID string, turn int) Frame {
	return Frame{
		Type:    FrameUpdate,
		IsFinal: true,
		MsgID:   msgID,
		Metadata: map[string]any{
			"update_type": UpdateError,
			"turn":        turn,
			"status":      "error",
		},
	}
}

// MetaString returns the string value at key, or "" when absent or not a string.
func (f Frame) MetaString(key string) string {
	s, _ := f.Metadata[key].(string)
	return s
}

// MetaInt returns the integer value at key. JSON numbers decode as float64,
// so both forms are accepted. Returns 0 when absent.
func (f Frame) MetaInt(key string) int {
	switch v := f.Metadata[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
