package brain

import (
	"github.com/voxtail/voxtail/pkg/types"
)

// ItemKind discriminates History items.
type ItemKind string

const (
	// ItemUser is a transcribed or typed user message.
	ItemUser ItemKind = "user"

	// ItemAssistant is an assistant reply turn. Tool calls issued in the same
	// turn follow as ItemToolCall items.
	ItemAssistant ItemKind = "assistant"

	// ItemToolCall is one tool invocation requested by the preceding
	// assistant item.
	ItemToolCall ItemKind = "tool_call"

	// ItemToolResult is the outcome of one tool call, paired by CallID.
	ItemToolResult ItemKind = "tool_result"
)

// Item is one entry of the conversation history. Fields beyond Kind are
// populated per kind: Text for user, assistant, and tool_result items;
// Language for user items; Call for tool_call items; CallID for tool_result
// items.
type Item struct {
	Kind     ItemKind
	Text     string
	Language types.Language
	Call     types.ToolCall
	CallID   string
}

// History is the bounded conversation memory of one session. It retains at
// most max items and evicts oldest-first, always dropping a whole
// assistant/tool-call/tool-result group so no tool call is left dangling.
//
// History is not safe for concurrent use; the reasoning loop owns it.
type History struct {
	max   int
	items []Item
}

// NewHistory creates a History retaining at most max items. A non-positive
// max falls back to 20.
func NewHistory(max int) *History {
	if max <= 0 {
		max = 20
	}
	return &History{max: max}
}

// AddUser appends a user message with its detected language.
func (h *History) AddUser(text string, lang types.Language) {
	h.add(Item{Kind: ItemUser, Text: text, Language: lang})
}

// AddAssistant appends an assistant reply turn.
func (h *History) AddAssistant(text string) {
	h.add(Item{Kind: ItemAssistant, Text: text})
}

// AddToolCall appends a tool call belonging to the last assistant item.
func (h *History) AddToolCall(call types.ToolCall) {
	h.add(Item{Kind: ItemToolCall, Call: call})
}

// AddToolResult appends the outcome of the tool call identified by callID.
// Content is stored in full; truncation applies only to client updates.
func (h *History) AddToolResult(callID, content string) {
	h.add(Item{Kind: ItemToolResult, Text: content, CallID: callID})
}

func (h *History) add(it Item) {
	h.items = append(h.items, it)
	for len(h.items) > h.max {
		h.items = h.items[1:]
		// A tool call or result must not lead the history; its anchoring
		// assistant item was just evicted.
		for len(h.items) > 0 && (h.items[0].Kind == ItemToolCall || h.items[0].Kind == ItemToolResult) {
			h.items = h.items[1:]
		}
	}
}

// DropUnpairedToolCalls removes tool calls that never received a result, so
// a reply cancelled mid-execution leaves the history ending on a completed
// call/result pair. An assistant item left carrying neither text nor calls is
// removed with them.
func (h *History) DropUnpairedToolCalls() {
	answered := make(map[string]bool)
	for _, it := range h.items {
		if it.Kind == ItemToolResult {
			answered[it.CallID] = true
		}
	}
	kept := h.items[:0]
	for _, it := range h.items {
		if it.Kind == ItemToolCall && !answered[it.Call.ID] {
			continue
		}
		kept = append(kept, it)
	}
	if n := len(kept); n > 0 && kept[n-1].Kind == ItemAssistant && kept[n-1].Text == "" {
		kept = kept[:n-1]
	}
	h.items = kept
}

// Len returns the number of retained items.
func (h *History) Len() int {
	return len(h.items)
}

// Items returns a copy of the retained items, oldest first.
func (h *History) Items() []Item {
	out := make([]Item, len(h.items))
	copy(out, h.items)
	return out
}

// LastUserLanguage returns the language of the most recent user item, or
// LanguageUnknown when there is none or the item's language is undetected.
func (h *History) LastUserLanguage() types.Language {
	for i := len(h.items) - 1; i >= 0; i-- {
		if h.items[i].Kind == ItemUser {
			return h.items[i].Language
		}
	}
	return types.LanguageUnknown
}

// Messages renders the history into the LLM conversation format. Consecutive
// tool-call items following an assistant item fold into that assistant
// message's ToolCalls; tool results become "tool"-role messages.
func (h *History) Messages() []types.Message {
	out := make([]types.Message, 0, len(h.items))
	for i := 0; i < len(h.items); i++ {
		it := h.items[i]
		switch it.Kind {
		case ItemUser:
			out = append(out, types.Message{Role: "user", Content: it.Text})
		case ItemAssistant:
			msg := types.Message{Role: "assistant", Content: it.Text}
			for i+1 < len(h.items) && h.items[i+1].Kind == ItemToolCall {
				i++
				msg.ToolCalls = append(msg.ToolCalls, h.items[i].Call)
			}
			out = append(out, msg)
		case ItemToolResult:
			out = append(out, types.Message{Role: "tool", Content: it.Text, ToolCallID: it.CallID})
		}
	}
	return out
}
