// Package config provides the configuration schema and loader for the
// Voxtail voice assistant server.
package config

import (
	"runtime"
	"time"

	"github.com/voxtail/voxtail/pkg/types"
)

// LogLevel controls log verbosity for the Voxtail server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ASREngine selects the speech-to-text backend.
type ASREngine string

const (
	// ASRWhisper runs whisper.cpp in-process.
	ASRWhisper ASREngine = "whisper"
)

// IsValid reports whether e is a recognised ASR engine.
func (e ASREngine) IsValid() bool {
	return e == ASRWhisper
}

// TTSEngine selects the speech synthesis backend.
type TTSEngine string

const (
	// TTSEdge uses the Microsoft Edge read-aloud service.
	TTSEdge TTSEngine = "edge"
)

// IsValid reports whether e is a recognised TTS engine.
func (e TTSEngine) IsValid() bool {
	return e == TTSEdge
}

// VADEngine selects the voice activity detector.
type VADEngine string

const (
	// VADEnergy is the RMS energy detector.
	VADEnergy VADEngine = "energy"
)

// IsValid reports whether e is a recognised VAD engine.
func (e VADEngine) IsValid() bool {
	return e == VADEnergy
}

// MCPTransport selects how an MCP tool server is reached.
type MCPTransport string

const (
	// MCPStdio launches the server as a subprocess speaking stdio.
	MCPStdio MCPTransport = "stdio"

	// MCPHTTP connects to a streamable HTTP endpoint.
	MCPHTTP MCPTransport = "http"
)

// IsValid reports whether t is a recognised MCP transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPStdio || t == MCPHTTP
}

// Config is the root configuration for Voxtail, typically loaded from a YAML
// file with [Load]. Zero values fall back to the defaults from [Default].
type Config struct {
	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// DefaultLanguage is the fallback reply language when detection is
	// inconclusive. Default "zh".
	DefaultLanguage types.Language `yaml:"default_language"`

	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	ASR        ASRConfig        `yaml:"asr"`
	TTS        TTSConfig        `yaml:"tts"`
	Audio      AudioConfig      `yaml:"audio"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Brain      BrainConfig      `yaml:"brain"`
	Tools      ToolsConfig      `yaml:"tools"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds the network settings.
type ServerConfig struct {
	// Host is the listen address. Default "0.0.0.0".
	Host string `yaml:"host"`

	// Port is the listen port. Default 8000.
	Port int `yaml:"port"`
}

// LLMConfig configures the reasoning model.
type LLMConfig struct {
	// Provider selects the backend: "openai" (any OpenAI-compatible endpoint,
	// including OpenRouter), or one of the any-llm names ("anthropic",
	// "gemini", "ollama", "deepseek", "mistral", "groq").
	Provider string `yaml:"provider"`

	// APIKey authenticates against the endpoint. Falls back to the
	// LLM_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier sent with each request.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Temperature is the sampling temperature. Default 0.7.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps tokens per reply turn. Default 2000.
	MaxTokens int `yaml:"max_tokens"`

	// InactivityTimeoutS aborts a stream that produces no event for this
	// many seconds. Default 60.
	InactivityTimeoutS int `yaml:"inactivity_timeout_s"`
}

// ASRConfig configures speech recognition.
type ASRConfig struct {
	// Engine selects the backend. Default "whisper".
	Engine ASREngine `yaml:"engine"`

	// ModelSize selects the whisper model: tiny, base, small, medium, large.
	// Default "base".
	ModelSize string `yaml:"model_size"`

	// ModelDir is where ggml model files live. Default "models".
	ModelDir string `yaml:"model_dir"`

	// Workers caps concurrent inference process-wide.
	// Default min(NumCPU, 4).
	Workers int `yaml:"workers"`

	// Language forces recognition language; "auto" enables detection.
	Language string `yaml:"language"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	// Engine selects the backend. Default "edge".
	Engine TTSEngine `yaml:"engine"`

	// VoiceEN and VoiceZH select the per-language voices.
	VoiceEN string `yaml:"voice_en"`
	VoiceZH string `yaml:"voice_zh"`

	// ChunkTimeoutS caps synthesis of one text chunk. Default 15.
	ChunkTimeoutS int `yaml:"chunk_timeout_s"`

	// MinChunkChars is the soft minimum chunk length for sentence
	// splitting. Default 40.
	MinChunkChars int `yaml:"min_chunk_chars"`
}

// AudioConfig fixes the PCM formats and framing of the audio path.
type AudioConfig struct {
	// SampleRateIn is the expected inbound PCM rate. Default 16000.
	SampleRateIn int `yaml:"sample_rate_in"`

	// SampleRateOut is the synthesized PCM rate. Default 24000.
	SampleRateOut int `yaml:"sample_rate_out"`

	// FrameMs is the ingest frame size in milliseconds. Default 20.
	FrameMs int `yaml:"frame_ms"`

	// MaxFramesQueue bounds the ingest queue; beyond it the oldest frames
	// are dropped. Default 256.
	MaxFramesQueue int `yaml:"max_frames_queue"`
}

// SegmenterConfig tunes utterance segmentation.
type SegmenterConfig struct {
	// PreRollMs of audio kept before speech onset. Default 300.
	PreRollMs int `yaml:"pre_roll_ms"`

	// MinSilenceMs of trailing silence that closes an utterance. Default 600.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MaxUtteranceMs is the hard cap on utterance length. Default 15000.
	MaxUtteranceMs int `yaml:"max_utterance_ms"`

	// VAD selects the detector. Default "energy".
	VAD VADEngine `yaml:"vad"`

	// VADThreshold is the detector's speech threshold in [0, 1]. Default 0.5.
	VADThreshold float64 `yaml:"vad_threshold"`
}

// BrainConfig tunes the reasoning loop.
type BrainConfig struct {
	// MaxConversationHistory bounds retained history items. Default 20.
	MaxConversationHistory int `yaml:"max_conversation_history"`

	// MaxToolIterations caps tool-call rounds per reply. Default 5.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// ToolTimeoutS caps one tool invocation. Default 30.
	ToolTimeoutS int `yaml:"tool_timeout_s"`

	// SystemPromptPath optionally replaces the built-in bilingual prompt.
	SystemPromptPath string `yaml:"system_prompt_path"`
}

// ToolsConfig configures tool availability.
type ToolsConfig struct {
	// SerperAPIKey enables the web_search tool when present. Falls back to
	// the SERPER_API_KEY environment variable when empty.
	SerperAPIKey string `yaml:"serper_api_key"`

	// MCPServers lists external MCP tool servers to connect at startup.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes one MCP tool server.
type MCPServerConfig struct {
	// Name prefixes the server's tool names in the registry.
	Name string `yaml:"name"`

	// Transport is "stdio" or "http".
	Transport MCPTransport `yaml:"transport"`

	// Command and Args launch a stdio server.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// URL locates a streamable HTTP server.
	URL string `yaml:"url"`
}

// TranscriptConfig tunes transcript post-processing.
type TranscriptConfig struct {
	// Hotwords are proper nouns to fuzzy-restore in Latin-script transcripts.
	Hotwords []string `yaml:"hotwords"`
}

// Default returns a Config populated with every documented default.
func Default() *Config {
	return &Config{
		LogLevel:        LogInfo,
		DefaultLanguage: types.LanguageChinese,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		LLM: LLMConfig{
			Provider:           "openai",
			Model:              "anthropic/claude-3-5-nano",
			BaseURL:            "https://openrouter.ai/api/v1",
			Temperature:        0.7,
			MaxTokens:          2000,
			InactivityTimeoutS: 60,
		},
		ASR: ASRConfig{
			Engine:    ASRWhisper,
			ModelSize: "base",
			ModelDir:  "models",
			Workers:   defaultASRWorkers(),
			Language:  "auto",
		},
		TTS: TTSConfig{
			Engine:        TTSEdge,
			VoiceEN:       "en-US-JennyNeural",
			VoiceZH:       "zh-CN-XiaoxiaoNeural",
			ChunkTimeoutS: 15,
			MinChunkChars: 40,
		},
		Audio: AudioConfig{
			SampleRateIn:   16000,
			SampleRateOut:  24000,
			FrameMs:        20,
			MaxFramesQueue: 256,
		},
		Segmenter: SegmenterConfig{
			PreRollMs:      300,
			MinSilenceMs:   600,
			MaxUtteranceMs: 15000,
			VAD:            VADEnergy,
			VADThreshold:   0.5,
		},
		Brain: BrainConfig{
			MaxConversationHistory: 20,
			MaxToolIterations:      5,
			ToolTimeoutS:           30,
		},
	}
}

// InactivityTimeout returns InactivityTimeoutS as a duration.
func (c LLMConfig) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutS) * time.Second
}

// ChunkTimeout returns ChunkTimeoutS as a duration.
func (c TTSConfig) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutS) * time.Second
}

// ToolTimeout returns ToolTimeoutS as a duration.
func (c BrainConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutS) * time.Second
}

// defaultASRWorkers returns min(NumCPU, 4).
func defaultASRWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}
