package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
  webhook_secret: "s3cret"
providers:
  stt:
    name: openai
    api_key: sk-test
    model: whisper-1
  llm:
    name: anthropic
    api_key: sk-ant
    model: claude-sonnet-4-5
  tts:
    name: elevenlabs
    api_key: el-test
    model: eleven_flash_v2_5
business:
  name: "נדלן ירושלים"
  instructions: "אתה נציג של משרד תיווך."
  greeting: "שלום, הגעתם לנדלן ירושלים."
  language: he
  voice_id: voice-1
vad:
  speech_threshold: 0.02
  silence_threshold: 0.012
  min_speech_ms: 100
  hangover_ms: 400
turn:
  echo_grace_ms: 150
  max_context_turns: 12
registry:
  stale_ceiling: 60s
  sweep_interval: 10s
call_record:
  postgres_dsn: "postgres://localhost/voxline"
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.STT.Name != "openai" || cfg.Providers.STT.Model != "whisper-1" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if cfg.Business.Language != "he" {
		t.Errorf("language = %q", cfg.Business.Language)
	}
	if cfg.VAD.SpeechThreshold != 0.02 {
		t.Errorf("speech_threshold = %v", cfg.VAD.SpeechThreshold)
	}
	if cfg.Registry.StaleCeiling != 60*time.Second {
		t.Errorf("stale_ceiling = %v", cfg.Registry.StaleCeiling)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	yaml := strings.Replace(validYAML, "server:", "bogus_field: 1\nserver:", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "log_level",
		},
		{
			name:    "missing stt provider",
			mutate:  func(c *Config) { c.Providers.STT.Name = "" },
			wantErr: "providers.stt.name",
		},
		{
			name:    "missing llm provider",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantErr: "providers.llm.name",
		},
		{
			name:    "missing tts provider",
			mutate:  func(c *Config) { c.Providers.TTS.Name = "" },
			wantErr: "providers.tts.name",
		},
		{
			name:    "speech threshold out of range",
			mutate:  func(c *Config) { c.VAD.SpeechThreshold = 1.5 },
			wantErr: "speech_threshold",
		},
		{
			name: "silence above speech",
			mutate: func(c *Config) {
				c.VAD.SilenceThreshold = 0.5
				c.VAD.SpeechThreshold = 0.1
			},
			wantErr: "silence_threshold",
		},
		{
			name:    "negative echo grace",
			mutate:  func(c *Config) { c.Turn.EchoGraceMs = -1 },
			wantErr: "echo_grace_ms",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Turn.Temperature = 3 },
			wantErr: "temperature",
		},
		{
			name:    "unnamed stt fallback",
			mutate:  func(c *Config) { c.Providers.STTFallback = &ProviderEntry{APIKey: "k"} },
			wantErr: "providers.stt_fallback.name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
