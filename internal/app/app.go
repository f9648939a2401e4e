// Package app wires all Voxline subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the server until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRecordSink, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxline-ai/voxline/internal/callrecord"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/dialog"
	"github.com/voxline-ai/voxline/internal/dtmf"
	"github.com/voxline-ai/voxline/internal/gateway"
	"github.com/voxline-ai/voxline/internal/health"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/registry"
	"github.com/voxline-ai/voxline/internal/turn"
	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/llm"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
	"github.com/voxline-ai/voxline/pkg/provider/tts"
	"github.com/voxline-ai/voxline/pkg/provider/vad"
)

// Supervision defaults when the registry section is unset.
const (
	defaultStaleCeiling  = 60 * time.Second
	defaultSweepInterval = 10 * time.Second
)

// Providers holds one interface value per pipeline stage. All four are
// required. Populated by main.go via the config registry, optionally wrapped
// in failover groups by [BuildProviders].
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// customerLoader is implemented by record sinks that can recall a returning
// caller, such as [callrecord.PostgresSink].
type customerLoader interface {
	LoadCustomer(ctx context.Context, phone string) (dialog.Customer, error)
}

// hotState is the subset of configuration that the watcher may replace at
// runtime. Changes apply to calls answered after the swap.
type hotState struct {
	business config.BusinessConfig
	vad      config.VADConfig
	turn     config.TurnConfig
}

// App owns all subsystem lifetimes and serves the Voxline telephony pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	records  callrecord.Sink
	reg      *registry.Registry
	sweeper  *registry.Sweeper
	gw       *gateway.Gateway
	watcher  *config.Watcher
	logLevel *slog.LevelVar
	fallback []byte

	hotMu sync.RWMutex
	hot   hotState

	// closers run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordSink injects a call record sink instead of creating one from config.
func WithRecordSink(s callrecord.Sink) Option {
	return func(a *App) { a.records = s }
}

// WithMetrics injects a metrics set instead of using the global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar hands the app the level var the root logger was built with,
// so configuration reloads can retune verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil || providers.VAD == nil {
		return nil, errors.New("app: all four providers (stt, llm, tts, vad) are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		hot: hotState{
			business: cfg.Business,
			vad:      cfg.VAD,
			turn:     cfg.Turn,
		},
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initRecords(ctx); err != nil {
		return nil, fmt.Errorf("app: init call records: %w", err)
	}
	if err := a.initFallbackAudio(); err != nil {
		return nil, fmt.Errorf("app: init fallback audio: %w", err)
	}
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	return a, nil
}

// initRecords sets up the PostgreSQL summary sink, or the discarding sink
// when no DSN is configured.
func (a *App) initRecords(ctx context.Context) error {
	if a.records != nil {
		return nil
	}

	dsn := a.cfg.CallRecord.PostgresDSN
	if dsn == "" {
		slog.Warn("no call record store configured, summaries will be discarded")
		a.records = callrecord.Noop{}
		return nil
	}

	sink, err := callrecord.NewPostgresSink(ctx, dsn)
	if err != nil {
		return err
	}
	a.records = sink
	a.closers = append(a.closers, func() error {
		sink.Close()
		return nil
	})
	return nil
}

// initFallbackAudio loads the raw μ-law clip played when synthesis fails.
func (a *App) initFallbackAudio() error {
	path := a.cfg.Business.FallbackAudioPath
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("fallback audio %q is empty", path)
	}
	a.fallback = data
	slog.Info("loaded fallback audio", "path", path, "bytes", len(data))
	return nil
}

// initGateway creates the stream registry, its sweeper, and the media gateway.
func (a *App) initGateway() error {
	a.reg = registry.New()

	checks := health.New(health.Checker{
		Name: "call_records",
		Check: func(ctx context.Context) error {
			if p, ok := a.records.(interface{ Ping(context.Context) error }); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	})

	gw, err := gateway.New(gateway.Config{
		ListenAddr:    a.cfg.Server.ListenAddr,
		WebhookSecret: a.cfg.Server.WebhookSecret,
	}, a.buildMachine, a.reg, a.metrics, a.records, checks)
	if err != nil {
		return err
	}
	a.gw = gw
	checks.ActiveCalls = gw.ActiveSessions

	ceiling := a.cfg.Registry.StaleCeiling
	if ceiling <= 0 {
		ceiling = defaultStaleCeiling
	}
	interval := a.cfg.Registry.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	a.sweeper = registry.NewSweeper(a.reg, ceiling, interval, gw.CloseStale)
	return nil
}

// buildMachine assembles the per-call pipeline. It is the gateway's
// [gateway.MachineBuilder].
func (a *App) buildMachine(ctx context.Context, start gateway.StartPayload, sink turn.FrameSink) (*turn.Machine, error) {
	a.hotMu.RLock()
	hot := a.hot
	a.hotMu.RUnlock()

	vadSession, err := a.providers.VAD.NewSession(vad.Config{
		SampleRate:       audio.TelephonyRate,
		FrameSizeMs:      int(audio.FrameDuration / time.Millisecond),
		SpeechThreshold:  hot.vad.SpeechThreshold,
		SilenceThreshold: hot.vad.SilenceThreshold,
		MinSpeechMs:      hot.vad.MinSpeechMs,
		HangoverMs:       hot.vad.HangoverMs,
	})
	if err != nil {
		return nil, fmt.Errorf("app: new vad session: %w", err)
	}

	var customer dialog.Customer
	if loader, ok := a.records.(customerLoader); ok && start.From != "" {
		customer, err = loader.LoadCustomer(ctx, start.From)
		if err != nil {
			slog.Warn("loading caller history failed", "call_id", start.CallSID, "err", err)
		}
	}

	responder := dialog.New(a.providers.LLM, dialog.Config{
		Instructions:    hot.business.Instructions,
		MaxContextTurns: hot.turn.MaxContextTurns,
		MaxReplyTokens:  hot.turn.MaxReplyTokens,
		Temperature:     hot.turn.Temperature,
	})

	voice := tts.VoiceProfile{
		ID:       hot.business.VoiceID,
		Language: hot.business.Language,
	}

	m, err := turn.New(turn.Config{
		CallID:       start.CallSID,
		StreamID:     start.StreamSID,
		CallerPhone:  start.From,
		Customer:     customer,
		Greeting:     hot.business.Greeting,
		RepeatPrompt: hot.business.RepeatPrompt,
		EchoGrace:    time.Duration(hot.turn.EchoGraceMs) * time.Millisecond,
	}, turn.Deps{
		VAD:         vadSession,
		Transcriber: turn.NewTranscriber(a.providers.STT, hot.business.Language),
		Responder:   responder,
		Synthesizer: turn.NewSynthesizer(a.providers.TTS, voice, a.fallback),
		Sink:        sink,
		Menu: dtmf.New(dtmf.Config{
			MenuPrompt:      hot.business.Menu.MenuPrompt,
			BookingPrompt:   hot.business.Menu.BookingPrompt,
			BusinessInfo:    hot.business.Menu.BusinessInfo,
			TransferMessage: hot.business.Menu.TransferMessage,
		}),
		Hooks: a.machineHooks(),
	})
	if err != nil {
		vadSession.Close()
		return nil, err
	}
	return m, nil
}

// machineHooks bridges turn machine events into metrics.
func (a *App) machineHooks() turn.Hooks {
	return turn.Hooks{
		OnStateChange: func(callID string, from, to turn.State) {
			slog.Debug("turn state", "call_id", callID, "from", from.String(), "to", to.String())
		},
		OnBargeIn: func(callID string) {
			a.metrics.BargeIns.Add(context.Background(), 1)
		},
		OnApology: func(callID string) {
			a.metrics.Apologies.Add(context.Background(), 1)
		},
		OnStageDone: a.recordStage,
	}
}

// recordStage feeds per-stage turn latencies into the pipeline histograms and
// the provider request counters.
func (a *App) recordStage(callID, stage string, d time.Duration, status string) {
	ctx := context.Background()
	secs := d.Seconds()

	var provider string
	switch stage {
	case turn.StageTranscribe:
		a.metrics.STTDuration.Record(ctx, secs)
		provider = a.cfg.Providers.STT.Name
	case turn.StageRespond:
		a.metrics.LLMDuration.Record(ctx, secs)
		provider = a.cfg.Providers.LLM.Name
	case turn.StageSynthesize:
		a.metrics.TTSDuration.Record(ctx, secs)
		provider = a.cfg.Providers.TTS.Name
	case turn.StageTurn:
		a.metrics.TurnDuration.Record(ctx, secs)
		return
	default:
		return
	}

	a.metrics.RecordProviderRequest(ctx, provider, stage, status)
	if status != "ok" {
		a.metrics.RecordProviderError(ctx, provider, stage)
	}
}

// WatchConfig starts polling path for configuration changes. Log level
// changes take effect immediately; business, VAD, and turn tuning apply to
// new calls.
func (a *App) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, a.applyConfigChange)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}

	if d.BusinessChanged || d.VADChanged || d.TurnChanged {
		a.hotMu.Lock()
		a.hot = hotState{
			business: new.Business,
			vad:      new.VAD,
			turn:     new.Turn,
		}
		a.hotMu.Unlock()
		slog.Info("configuration reloaded, tuning applies to new calls",
			"business", d.BusinessChanged, "vad", d.VADChanged, "turn", d.TurnChanged)
	}
}

// slogLevel maps a config log level to its slog.Level.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Run serves the gateway and the stale-stream sweeper until ctx is cancelled
// or either fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.gw.Serve(ctx) })
	g.Go(func() error { return a.sweeper.Run(ctx) })

	slog.Info("voxline running",
		"listen", a.cfg.Server.ListenAddr,
		"business", a.cfg.Business.Name)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Gateway exposes the media gateway, for tests and health wiring.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
