package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists the known reasoning backends. Used by [Validate]
// to warn about unrecognised provider names without rejecting them, since
// any-llm gains backends faster than this list is updated.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// validModelSizes lists the whisper model sizes shipped as ggml files.
var validModelSizes = []string{"tiny", "base", "small", "medium", "large"}

// Load reads the YAML configuration file at path, layered over [Default],
// and returns a validated [Config]. Unknown keys in the file are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults, applies
// environment fallbacks, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills secrets from the environment when the YAML left them empty:
// LLM_API_KEY for llm.api_key and SERPER_API_KEY for tools.serper_api_key.
func ApplyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.Tools.SerperAPIKey == "" {
		cfg.Tools.SerperAPIKey = os.Getenv("SERPER_API_KEY")
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if l := cfg.DefaultLanguage; l != "zh" && l != "en" {
		errs = append(errs, fmt.Errorf("default_language %q is invalid; valid values: zh, en", l))
	}

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}

	// LLM
	if cfg.LLM.Provider != "" && !slices.Contains(ValidLLMProviders, cfg.LLM.Provider) {
		slog.Warn("unknown llm.provider — may be a typo or a new any-llm backend",
			"provider", cfg.LLM.Provider,
			"known", ValidLLMProviders,
		)
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("llm.max_tokens %d must be positive", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.InactivityTimeoutS < 1 {
		errs = append(errs, fmt.Errorf("llm.inactivity_timeout_s %d must be positive", cfg.LLM.InactivityTimeoutS))
	}

	// ASR
	if !cfg.ASR.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("asr.engine %q is invalid; valid values: whisper", cfg.ASR.Engine))
	}
	if !slices.Contains(validModelSizes, cfg.ASR.ModelSize) {
		errs = append(errs, fmt.Errorf("asr.model_size %q is invalid; valid values: %v", cfg.ASR.ModelSize, validModelSizes))
	}
	if cfg.ASR.Workers < 1 {
		errs = append(errs, fmt.Errorf("asr.workers %d must be positive", cfg.ASR.Workers))
	}

	// TTS
	if !cfg.TTS.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("tts.engine %q is invalid; valid values: edge", cfg.TTS.Engine))
	}
	if cfg.TTS.VoiceEN == "" || cfg.TTS.VoiceZH == "" {
		errs = append(errs, errors.New("tts.voice_en and tts.voice_zh are both required"))
	}
	if cfg.TTS.ChunkTimeoutS < 1 {
		errs = append(errs, fmt.Errorf("tts.chunk_timeout_s %d must be positive", cfg.TTS.ChunkTimeoutS))
	}
	if cfg.TTS.MinChunkChars < 1 {
		errs = append(errs, fmt.Errorf("tts.min_chunk_chars %d must be positive", cfg.TTS.MinChunkChars))
	}

	// Audio
	if cfg.Audio.SampleRateIn < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate_in %d is below 8000", cfg.Audio.SampleRateIn))
	}
	if cfg.Audio.SampleRateOut < 8000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate_out %d is below 8000", cfg.Audio.SampleRateOut))
	}
	if cfg.Audio.FrameMs < 1 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}
	if cfg.Audio.MaxFramesQueue < 1 {
		errs = append(errs, fmt.Errorf("audio.max_frames_queue %d must be positive", cfg.Audio.MaxFramesQueue))
	}

	// Segmenter
	if !cfg.Segmenter.VAD.IsValid() {
		errs = append(errs, fmt.Errorf("segmenter.vad %q is invalid; valid values: energy", cfg.Segmenter.VAD))
	}
	if t := cfg.Segmenter.VADThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("segmenter.vad_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Segmenter.PreRollMs < 0 {
		errs = append(errs, fmt.Errorf("segmenter.pre_roll_ms %d must not be negative", cfg.Segmenter.PreRollMs))
	}
	if cfg.Segmenter.MinSilenceMs < 1 {
		errs = append(errs, fmt.Errorf("segmenter.min_silence_ms %d must be positive", cfg.Segmenter.MinSilenceMs))
	}
	if cfg.Segmenter.MaxUtteranceMs <= cfg.Segmenter.MinSilenceMs {
		errs = append(errs, fmt.Errorf("segmenter.max_utterance_ms %d must exceed min_silence_ms %d",
			cfg.Segmenter.MaxUtteranceMs, cfg.Segmenter.MinSilenceMs))
	}

	// Brain
	if cfg.Brain.MaxConversationHistory < 1 {
		errs = append(errs, fmt.Errorf("brain.max_conversation_history %d must be positive", cfg.Brain.MaxConversationHistory))
	}
	if cfg.Brain.MaxToolIterations < 1 {
		errs = append(errs, fmt.Errorf("brain.max_tool_iterations %d must be positive", cfg.Brain.MaxToolIterations))
	}
	if cfg.Brain.ToolTimeoutS < 1 {
		errs = append(errs, fmt.Errorf("brain.tool_timeout_s %d must be positive", cfg.Brain.ToolTimeoutS))
	}

	// MCP servers
	namesSeen := make(map[string]int, len(cfg.Tools.MCPServers))
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp_servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
		if srv.Transport == MCPStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	return errors.Join(errs...)
}

// SystemPrompt returns the contents of brain.system_prompt_path, or the
// empty string when no override file is configured.
func (c *Config) SystemPrompt() (string, error) {
	if c.Brain.SystemPromptPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Brain.SystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("config: read system prompt: %w", err)
	}
	return string(data), nil
}
