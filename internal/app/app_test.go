package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxline-ai/voxline/internal/callrecord"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/gateway"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/resilience"
	"github.com/voxline-ai/voxline/internal/turn"
	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/llm"
	llmmock "github.com/voxline-ai/voxline/pkg/provider/llm/mock"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
	sttmock "github.com/voxline-ai/voxline/pkg/provider/stt/mock"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
	ttsmock "github.com/voxline-ai/voxline/pkg/provider/tts/mock"
	"github.com/voxline-ai/voxline/pkg/provider/vad"
	vadmock "github.com/voxline-ai/voxline/pkg/provider/vad/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "openai"},
			LLM: config.ProviderEntry{Name: "openai"},
			TTS: config.ProviderEntry{Name: "elevenlabs"},
		},
		Business: config.BusinessConfig{
			Name:     "נדלן ירושלים",
			Greeting: "שלום",
			Language: "he",
			VoiceID:  "voice-1",
		},
	}
}

func testProviders() *Providers {
	return &Providers{
		STT: &sttmock.Provider{Result: stt.Result{Status: stt.StatusOK, Text: "שלום"}},
		LLM: &llmmock.Provider{Response: &llm.CompletionResponse{Content: "בסדר"}},
		TTS: &ttsmock.Provider{},
		VAD: &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := New(context.Background(), cfg, testProviders(),
		WithRecordSink(callrecord.Noop{}),
		WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNew_RequiresProviders(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Providers)
	}{
		{"nil providers", nil},
		{"missing stt", func(p *Providers) { p.STT = nil }},
		{"missing llm", func(p *Providers) { p.LLM = nil }},
		{"missing tts", func(p *Providers) { p.TTS = nil }},
		{"missing vad", func(p *Providers) { p.VAD = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var providers *Providers
			if tt.mutate != nil {
				providers = testProviders()
				tt.mutate(providers)
			}
			if _, err := New(context.Background(), testConfig(), providers); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestBuildMachine(t *testing.T) {
	a := newTestApp(t, testConfig())

	sink := func(context.Context, audio.AudioFrame) error { return nil }
	m, err := a.buildMachine(context.Background(), gateway.StartPayload{
		StreamSID: "MZ1",
		CallSID:   "CA1",
		From:      "+972501234567",
	}, frameSinkFunc(sink))
	if err != nil {
		t.Fatalf("buildMachine() error = %v", err)
	}
	if m.State() != turn.StateIdle {
		t.Errorf("State() = %v, want StateIdle", m.State())
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type frameSinkFunc func(context.Context, audio.AudioFrame) error

func (f frameSinkFunc) WriteFrame(ctx context.Context, frame audio.AudioFrame) error {
	return f(ctx, frame)
}

func TestMachineHooks_RecordStageLatencies(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := New(context.Background(), testConfig(), testProviders(),
		WithRecordSink(callrecord.Noop{}),
		WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	hooks := a.machineHooks()
	if hooks.OnStageDone == nil {
		t.Fatal("OnStageDone hook not wired")
	}
	hooks.OnStageDone("CA1", turn.StageTranscribe, 120*time.Millisecond, "ok")
	hooks.OnStageDone("CA1", turn.StageRespond, 300*time.Millisecond, "ok")
	hooks.OnStageDone("CA1", turn.StageSynthesize, 80*time.Millisecond, "ok")
	hooks.OnStageDone("CA1", turn.StageTurn, 500*time.Millisecond, "ok")
	hooks.OnStageDone("CA2", turn.StageTranscribe, 40*time.Millisecond, "failed")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	histCounts := map[string]uint64{
		"voxline.stt.duration":  2,
		"voxline.llm.duration":  1,
		"voxline.tts.duration":  1,
		"voxline.turn.duration": 1,
	}
	for name, want := range histCounts {
		met := findAppMetric(rm, name)
		if met == nil {
			t.Errorf("metric %q not recorded", name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Errorf("metric %q has no histogram data", name)
			continue
		}
		var count uint64
		for _, dp := range hist.DataPoints {
			count += dp.Count
		}
		if count != want {
			t.Errorf("%s count = %d, want %d", name, count, want)
		}
	}

	reqs := findAppMetric(rm, "voxline.provider.requests")
	if reqs == nil {
		t.Fatal("provider request counter not recorded")
	}
	var total int64
	for _, dp := range reqs.Data.(metricdata.Sum[int64]).DataPoints {
		total += dp.Value
	}
	if total != 4 {
		t.Errorf("provider requests = %d, want 4", total)
	}

	errs := findAppMetric(rm, "voxline.provider.errors")
	if errs == nil {
		t.Fatal("provider error counter not recorded")
	}
	if got := errs.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func findAppMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestApplyConfigChange(t *testing.T) {
	cfg := testConfig()
	level := &slog.LevelVar{}

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := New(context.Background(), cfg, testProviders(),
		WithRecordSink(callrecord.Noop{}),
		WithMetrics(metrics),
		WithLogLevelVar(level),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	updated := *cfg
	updated.Server.LogLevel = config.LogDebug
	updated.Business.Greeting = "ערב טוב"
	updated.Turn.EchoGraceMs = 300

	a.applyConfigChange(cfg, &updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	a.hotMu.RLock()
	defer a.hotMu.RUnlock()
	if a.hot.business.Greeting != "ערב טוב" {
		t.Errorf("hot greeting = %q, not swapped", a.hot.business.Greeting)
	}
	if a.hot.turn.EchoGraceMs != 300 {
		t.Errorf("hot echo grace = %d, not swapped", a.hot.turn.EchoGraceMs)
	}
}

func TestApplyConfigChange_NoChange(t *testing.T) {
	cfg := testConfig()
	a := newTestApp(t, cfg)

	same := *cfg
	a.applyConfigChange(cfg, &same)

	a.hotMu.RLock()
	defer a.hotMu.RUnlock()
	if a.hot.business.Greeting != cfg.Business.Greeting {
		t.Error("hot state changed without a config diff")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestShutdown_RunsClosersInReverse(t *testing.T) {
	a := newTestApp(t, testConfig())

	var order []int
	a.closers = append(a.closers,
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return errors.New("ignored") },
		func() error { order = append(order, 3); return nil },
	)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("closer order = %v, want [3 2 1]", order)
	}

	// Shutdown is idempotent.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran again: %v", order)
	}
}

func TestBuildProviders_WithFallbacks(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterSTT("openai", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return &vadmock.Engine{}, nil
	})

	cfg := testConfig()
	cfg.Providers.STTFallback = &config.ProviderEntry{Name: "deepgram"}

	p, err := BuildProviders(reg, cfg, resilience.FallbackConfig{})
	if err != nil {
		t.Fatalf("BuildProviders() error = %v", err)
	}
	if _, ok := p.STT.(*resilience.STTFallback); !ok {
		t.Errorf("STT = %T, want *resilience.STTFallback", p.STT)
	}
	if _, ok := p.LLM.(*llmmock.Provider); !ok {
		t.Errorf("LLM = %T, want the bare mock when no fallback is configured", p.LLM)
	}
	if p.VAD == nil {
		t.Error("VAD not constructed")
	}
}

func TestBuildProviders_UnknownProvider(t *testing.T) {
	reg := config.NewRegistry()
	cfg := testConfig()
	if _, err := BuildProviders(reg, cfg, resilience.FallbackConfig{}); err == nil {
		t.Error("BuildProviders() error = nil, want unregistered provider error")
	}
}
