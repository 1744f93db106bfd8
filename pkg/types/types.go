// Package types defines the shared types used across all Voxtail packages.
//
// These types form the lingua franca between the transport, the session
// pipeline stages, and the provider adapters. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import (
	"time"
	"unicode"
)

// Language identifies the spoken language of a transcript or reply.
type Language string

const (
	// LanguageChinese is Mandarin Chinese.
	LanguageChinese Language = "zh"

	// LanguageEnglish is English.
	LanguageEnglish Language = "en"

	// LanguageUnknown is reported when the ASR engine cannot decide.
	LanguageUnknown Language = "unknown"
)

// IsValid reports whether l is one of the defined Language values.
func (l Language) IsValid() bool {
	switch l {
	case LanguageChinese, LanguageEnglish, LanguageUnknown:
		return true
	}
	return false
}

// ParseLanguage maps an ISO 639-1 style code to a Language. Codes other than
// "zh" and "en" (including empty) map to LanguageUnknown.
func ParseLanguage(code string) Language {
	switch code {
	case "zh":
		return LanguageChinese
	case "en":
		return LanguageEnglish
	default:
		return LanguageUnknown
	}
}

// DetectLanguage classifies text by content: any Han rune makes it Chinese,
// otherwise English. Used for typed input where no ASR detection exists.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return LanguageChinese
		}
	}
	return LanguageEnglish
}

// AudioFrame is a single fixed-duration frame of audio flowing through the
// inbound pipeline. Frames are the atomic unit between AudioIngest and the
// Segmenter: normalized float32 mono PCM with a monotonic start timestamp
// relative to the first sample the session received.
type AudioFrame struct {
	// Samples is mono PCM normalized to [-1, 1].
	Samples []float32

	// SampleRate in Hz (16000 for the inbound leg).
	SampleRate int

	// Start is the frame's position relative to stream start.
	Start time.Duration
}

// Duration returns the frame length derived from the sample count.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Utterance is a bounded span of user speech delimited by silence, produced
// by the Segmenter and consumed exactly once by ASR. Immutable after creation.
type Utterance struct {
	// Samples is the concatenated mono PCM of the utterance, including pre-roll.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Start and End delimit the utterance relative to stream start.
	Start time.Duration
	End   time.Duration

	// PreRoll is how much pre-speech audio was prepended.
	PreRoll time.Duration
}

// Duration returns the utterance length derived from the sample count.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Transcript is a speech-to-text result for one Utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected language of the utterance.
	Language Language

	// Confidence is the overall confidence score in [0, 1]. Zero when the
	// engine does not report confidence.
	Confidence float64

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool
}

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call
	// this responds to.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier
	// (e.g. "zh-CN-XiaoxiaoNeural").
	ID string

	// Language is the language this voice speaks.
	Language Language

	// Rate adjusts speaking rate as a signed percentage ("+0%" = default).
	Rate string

	// Pitch adjusts pitch as a signed offset ("+0Hz" = default).
	Pitch string
}
