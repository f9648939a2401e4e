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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "deepgram"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.WebhookSecret == "" {
		slog.Warn("server.webhook_secret is empty; carrier requests will not be verified (development mode)")
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// Fallback providers are optional, but a present entry must be named.
	for kind, entry := range map[string]*ProviderEntry{
		"stt_fallback": cfg.Providers.STTFallback,
		"llm_fallback": cfg.Providers.LLMFallback,
		"tts_fallback": cfg.Providers.TTSFallback,
	} {
		if entry == nil {
			continue
		}
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required when the block is present", kind))
			continue
		}
		validateProviderName(kind[:3], entry.Name)
	}

	// The pipeline cannot run a turn without all three stages.
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, fmt.Errorf("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, fmt.Errorf("providers.tts.name is required"))
	}

	// VAD thresholds
	if cfg.VAD.SpeechThreshold < 0 || cfg.VAD.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.3f is out of range [0, 1]", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.3f is out of range [0, 1]", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold && cfg.VAD.SpeechThreshold != 0 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.3f exceeds vad.speech_threshold %.3f", cfg.VAD.SilenceThreshold, cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms must not be negative"))
	}
	if cfg.VAD.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_ms must not be negative"))
	}

	// Turn tuning
	if cfg.Turn.EchoGraceMs < 0 {
		errs = append(errs, fmt.Errorf("turn.echo_grace_ms must not be negative"))
	}
	if cfg.Turn.Temperature < 0 || cfg.Turn.Temperature > 2 {
		errs = append(errs, fmt.Errorf("turn.temperature %.2f is out of range [0, 2]", cfg.Turn.Temperature))
	}

	// Registry supervision
	if cfg.Registry.StaleCeiling < 0 {
		errs = append(errs, fmt.Errorf("registry.stale_ceiling must not be negative"))
	}
	if cfg.Registry.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("registry.sweep_interval must not be negative"))
	}

	// Call record availability
	if cfg.CallRecord.PostgresDSN == "" {
		slog.Warn("call_record.postgres_dsn is empty; call summaries will be discarded")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
