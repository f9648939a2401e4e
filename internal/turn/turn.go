// Package turn implements the per-call state machine coordinating listening,
// transcription, reply generation, and speech playback, including barge-in
// and loop-prevention logic.
//
// Each call is driven by exactly one Machine. The media gateway feeds inbound
// frames and keypad digits into it; the machine owns every state transition
// for its call and serialises them under one mutex. Transcription and
// dialogue are the only blocking operations and run on a per-turn goroutine
// that re-validates the state before applying its result, so a stale turn can
// never clobber a barge-in or a closed call.
package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxline-ai/voxline/internal/dialog"
	"github.com/voxline-ai/voxline/internal/dtmf"
	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/provider/stt"
	"github.com/voxline-ai/voxline/pkg/provider/vad"
)

// State is the position of a call in the turn cycle.
type State int

const (
	// StateIdle means the session is open with nothing buffered.
	StateIdle State = iota

	// StateListening means speech is being accumulated into an utterance.
	StateListening

	// StateTranscribing means the utterance closed and text is awaited.
	StateTranscribing

	// StateThinking means the dialogue reply is awaited.
	StateThinking

	// StateSpeaking means a PlaybackJob is streaming the reply.
	StateSpeaking

	// StateClosed is terminal: stream stopped or supervisory timeout.
	StateClosed
)

// String returns the lowercase state name, for logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default tuning values.
const (
	// defaultEchoGrace is how long after playback start a detected speech
	// onset is attributed to acoustic echo of the system's own voice.
	defaultEchoGrace = 150 * time.Millisecond

	// defaultPendingCap bounds the frames buffered while a turn is in
	// flight: 250 frames is five seconds of audio.
	defaultPendingCap = 250
)

// Responder produces the assistant reply for one caller utterance. It must
// not fail; degraded replies are its own concern.
type Responder interface {
	Respond(ctx context.Context, conv dialog.Conversation, callerText string) string
}

// Config identifies the call and tunes the machine.
type Config struct {
	// CallID is the carrier call identifier, present on every log line.
	CallID string

	// StreamID is the carrier media stream identifier.
	StreamID string

	// CallerPhone is the caller's number, carried into the call summary.
	CallerPhone string

	// Customer holds prior knowledge about the caller, injected into the
	// dialogue prompt.
	Customer dialog.Customer

	// Greeting is spoken when the stream starts. Empty skips the greeting.
	Greeting string

	// RepeatPrompt is spoken after a rejected or failed transcription.
	// Empty returns straight to idle.
	RepeatPrompt string

	// EchoGrace overrides the loop-prevention grace window. The value is
	// empirically tuned; validate changes against recorded call audio.
	EchoGrace time.Duration

	// FrameInterval overrides the playback pacing interval. Defaults to the
	// real-time frame duration.
	FrameInterval time.Duration

	// PendingCap bounds frames buffered during transcription and thinking.
	PendingCap int
}

// Deps are the collaborators a Machine drives. All except Menu and Hooks are
// required.
type Deps struct {
	VAD         vad.SessionHandle
	Transcriber *Transcriber
	Responder   Responder
	Synthesizer *Synthesizer
	Sink        FrameSink
	Menu        *dtmf.Menu
	Hooks       Hooks
}

// Hooks are optional observation points, used for metrics. Nil hooks are
// skipped. OnStateChange, OnBargeIn, and OnApology run under the machine lock
// and must not call back into it. OnStageDone runs on the turn or playback
// goroutine, outside the lock.
type Hooks struct {
	OnStateChange func(callID string, from, to State)
	OnBargeIn     func(callID string)
	OnApology     func(callID string)

	// OnStageDone reports the latency of one pipeline stage of a turn.
	// Stage is one of the Stage constants. Status is "ok" for a normal
	// completion, otherwise the provider's failure label.
	OnStageDone func(callID, stage string, d time.Duration, status string)
}

// Stage labels passed to Hooks.OnStageDone. StageSynthesize measures request
// to first transmitted frame; StageTurn measures utterance end to playback
// start.
const (
	StageTranscribe = "stt"
	StageRespond    = "llm"
	StageSynthesize = "tts"
	StageTurn       = "turn"
)

// Machine is the turn state machine for one call.
//
// HandleFrame, HandleDigit, Close, and Snapshot are safe for concurrent use,
// though the gateway normally calls HandleFrame from a single read loop.
type Machine struct {
	cfg  Config
	deps Deps
	now  func() time.Time
	seq  atomic.Uint64

	mu                sync.Mutex
	state             State
	createdAt         time.Time
	lastActivity      time.Time
	turns             []dialog.Turn
	menuCtx           dtmf.Context
	apologies         int
	bargeIns          int
	playback          *PlaybackJob
	playbackStartedAt time.Time
	utterance         []byte
	utteranceAt       time.Time
	pending           [][]byte
	baseCtx           context.Context
	baseCancel        context.CancelFunc
}

// New creates a Machine in StateIdle. Call Start to begin the session.
func New(cfg Config, deps Deps) (*Machine, error) {
	if deps.VAD == nil {
		return nil, fmt.Errorf("turn: VAD session is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("turn: transcriber is required")
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("turn: responder is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("turn: synthesizer is required")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("turn: frame sink is required")
	}
	if cfg.EchoGrace <= 0 {
		cfg.EchoGrace = defaultEchoGrace
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = audio.FrameDuration
	}
	if cfg.PendingCap <= 0 {
		cfg.PendingCap = defaultPendingCap
	}
	m := &Machine{cfg: cfg, deps: deps, now: time.Now}
	m.createdAt = m.now()
	m.lastActivity = m.createdAt
	return m, nil
}

// Start binds the machine to ctx and speaks the greeting, with the keypad
// menu appended while it is still on offer. ctx cancellation aborts any
// in-flight playback or synthesis; Close cancels it too.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx != nil || m.state == StateClosed {
		return
	}
	m.baseCtx, m.baseCancel = context.WithCancel(ctx)

	greeting := m.cfg.Greeting
	if m.deps.Menu != nil && m.deps.Menu.ShouldOffer(m.menuCtx) {
		if greeting != "" {
			greeting += " "
		}
		greeting += m.deps.Menu.Prompt()
	}
	if greeting != "" {
		m.turns = append(m.turns, dialog.Turn{Role: dialog.RoleAssistant, Text: greeting, At: m.now()})
		m.speakLocked(greeting, time.Time{})
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HandleFrame processes one inbound μ-law frame. While a turn is in flight
// the frame is buffered rather than lost; it is replayed once the machine
// returns to idle.
func (m *Machine) HandleFrame(payload []byte) error {
	if len(payload) != audio.FrameBytes {
		return fmt.Errorf("turn: inbound frame is %d bytes, want %d", len(payload), audio.FrameBytes)
	}
	pcm := audio.DecodeULaw(payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()

	switch m.state {
	case StateClosed:
		return nil
	case StateTranscribing, StateThinking:
		m.bufferPendingLocked(pcm)
		return nil
	default:
		return m.processLocked(pcm)
	}
}

// HandleDigit processes one DTMF keypad digit. An active menu selection
// bypasses the voice pipeline for this turn: the chosen prompt is spoken
// directly and any in-flight playback or turn is abandoned.
func (m *Machine) HandleDigit(digit rune) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed || m.deps.Menu == nil {
		return
	}
	m.lastActivity = m.now()

	out := m.deps.Menu.Handle(digit, m.menuCtx)
	if out.Action == dtmf.ActionNone {
		return
	}
	if out.MenuChoice != 0 {
		m.menuCtx.MenuChoice = out.MenuChoice
	}
	slog.Info("turn: menu selection",
		"call", m.cfg.CallID, "digit", string(digit), "action", out.Action)

	if job := m.playback; job != nil {
		m.playback = nil
		job.Cancel()
	}
	m.utterance = nil
	m.pending = nil
	m.turns = append(m.turns, dialog.Turn{Role: dialog.RoleAssistant, Text: out.Message, At: m.now()})
	m.speakLocked(out.Message, time.Time{})
}

// Close moves the machine to StateClosed, cancels any playback, and releases
// the VAD session. Safe to call more than once.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateClosed)
	job := m.playback
	m.playback = nil
	cancel := m.baseCancel
	m.mu.Unlock()

	if job != nil {
		job.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	return m.deps.VAD.Close()
}

// Snapshot is a point-in-time copy of the call's observable state.
type Snapshot struct {
	CallID       string
	StreamID     string
	CallerPhone  string
	State        State
	StartedAt    time.Time
	LastActivity time.Time
	Turns        []dialog.Turn
	Apologies    int
	BargeIns     int
}

// Snapshot returns a copy of the call state for supervision and the final
// call summary.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := make([]dialog.Turn, len(m.turns))
	copy(turns, m.turns)
	return Snapshot{
		CallID:       m.cfg.CallID,
		StreamID:     m.cfg.StreamID,
		CallerPhone:  m.cfg.CallerPhone,
		State:        m.state,
		StartedAt:    m.createdAt,
		LastActivity: m.lastActivity,
		Turns:        turns,
		Apologies:    m.apologies,
		BargeIns:     m.bargeIns,
	}
}

// processLocked routes one decoded frame through VAD and the transition
// table. Caller holds m.mu and the state is idle, listening, or speaking.
func (m *Machine) processLocked(pcm []byte) error {
	ev, err := m.deps.VAD.ProcessFrame(pcm)
	if err != nil {
		return fmt.Errorf("turn: vad: %w", err)
	}

	switch m.state {
	case StateIdle:
		if ev.Type == vad.VADSpeechStart {
			m.toListeningLocked(pcm)
		}
	case StateListening:
		m.utterance = append(m.utterance, pcm...)
		if ev.Type == vad.VADSpeechEnd {
			m.beginTurnLocked()
		}
	case StateSpeaking:
		if ev.Type != vad.VADSpeechStart {
			return nil
		}
		if m.now().Sub(m.playbackStartedAt) < m.cfg.EchoGrace {
			// The onset is our own voice coming back over the line, not the
			// caller. Clearing the detector keeps the suppressed onset from
			// counting toward a later, genuine one.
			slog.Debug("turn: speech onset inside echo grace window suppressed",
				"call", m.cfg.CallID)
			m.deps.VAD.Reset()
			return nil
		}
		m.bargeInLocked(pcm)
	}
	return nil
}

func (m *Machine) toListeningLocked(pcm []byte) {
	m.utterance = append([]byte(nil), pcm...)
	m.utteranceAt = m.now()
	m.setStateLocked(StateListening)
}

// beginTurnLocked hands the closed utterance to a turn goroutine and moves to
// transcribing. Inbound frames buffer until the turn resolves.
func (m *Machine) beginTurnLocked() {
	utterance := m.utterance
	m.utterance = nil
	m.setStateLocked(StateTranscribing)
	slog.Debug("turn: utterance closed",
		"call", m.cfg.CallID,
		"duration", m.now().Sub(m.utteranceAt),
		"bytes", len(utterance))
	ctx := m.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go m.runTurn(ctx, utterance)
}

// runTurn performs the blocking half of one conversation turn: transcription
// then reply generation. Before applying each result it re-validates that the
// machine is still in the state this turn left it in; a close or a keypad
// selection in the meantime abandons the turn.
func (m *Machine) runTurn(ctx context.Context, utterance []byte) {
	turnStart := m.now()
	res := m.deps.Transcriber.Transcribe(ctx, utterance)
	m.stageDone(StageTranscribe, turnStart, res.Status.String())

	m.mu.Lock()
	if m.state != StateTranscribing {
		m.mu.Unlock()
		return
	}

	if res.Status != stt.StatusOK {
		m.apologies++
		if m.deps.Hooks.OnApology != nil {
			m.deps.Hooks.OnApology(m.cfg.CallID)
		}
		slog.Warn("turn: transcription unusable, asking caller to repeat",
			"call", m.cfg.CallID, "status", res.Status.String(), "err", res.Err)
		m.speakLocked(m.cfg.RepeatPrompt, time.Time{})
		m.mu.Unlock()
		return
	}

	m.turns = append(m.turns, dialog.Turn{Role: dialog.RoleCaller, Text: res.Text, At: m.now()})
	m.menuCtx.TurnCount++
	conv := dialog.Conversation{
		Turns:    append([]dialog.Turn(nil), m.turns[:len(m.turns)-1]...),
		Customer: m.cfg.Customer,
	}
	m.setStateLocked(StateThinking)
	m.mu.Unlock()

	thinkStart := m.now()
	reply := m.deps.Responder.Respond(ctx, conv, res.Text)
	m.stageDone(StageRespond, thinkStart, "ok")

	m.mu.Lock()
	if m.state != StateThinking {
		m.mu.Unlock()
		return
	}
	m.turns = append(m.turns, dialog.Turn{Role: dialog.RoleAssistant, Text: reply, At: m.now()})
	m.speakLocked(reply, turnStart)
	m.mu.Unlock()
}

// stageDone reports one stage latency through the hook. Called outside the
// machine lock.
func (m *Machine) stageDone(stage string, start time.Time, status string) {
	if m.deps.Hooks.OnStageDone != nil {
		m.deps.Hooks.OnStageDone(m.cfg.CallID, stage, m.now().Sub(start), status)
	}
}

// speakLocked starts a PlaybackJob for text and moves to speaking. Empty text
// resolves the turn immediately. A non-zero turnStart marks this reply as the
// resolution of a spoken turn; the end-to-end latency is reported once the
// first frame leaves.
func (m *Machine) speakLocked(text string, turnStart time.Time) {
	if text == "" || m.baseCtx == nil {
		m.finishTurnLocked()
		return
	}

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	frames := m.deps.Synthesizer.Synthesize(jobCtx, text)
	job := newPlaybackJob(frames, m.deps.Sink, m.cfg.FrameInterval, m.nextSeq, cancel)
	synthStart := m.now()
	job.onFirstFrame = func() {
		m.stageDone(StageSynthesize, synthStart, "ok")
		if !turnStart.IsZero() {
			m.stageDone(StageTurn, turnStart, "ok")
		}
	}
	m.playback = job
	m.playbackStartedAt = m.now()
	m.setStateLocked(StateSpeaking)
	go job.run(jobCtx, m.playbackDone)
}

// playbackDone runs when a PlaybackJob stops for any reason. Only the job
// that is still current resolves the turn; a job displaced by barge-in, a
// keypad selection, or close changes nothing.
func (m *Machine) playbackDone(job *PlaybackJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playback != job {
		return
	}
	m.playback = nil
	if m.state != StateSpeaking {
		return
	}
	slog.Debug("turn: playback finished",
		"call", m.cfg.CallID, "frames", job.Sent(), "completed", job.Completed())
	m.finishTurnLocked()
}

// finishTurnLocked returns the machine to idle and replays frames that
// arrived while the turn was in flight.
func (m *Machine) finishTurnLocked() {
	m.deps.VAD.Reset()
	m.setStateLocked(StateIdle)
	m.drainPendingLocked()
}

// bargeInLocked cancels the active playback and starts listening to the
// interrupting speech. Frames buffered during the aborted turn are discarded;
// the caller's live speech supersedes them.
func (m *Machine) bargeInLocked(pcm []byte) {
	m.bargeIns++
	if m.deps.Hooks.OnBargeIn != nil {
		m.deps.Hooks.OnBargeIn(m.cfg.CallID)
	}
	slog.Info("turn: barge-in, cancelling playback", "call", m.cfg.CallID)

	if job := m.playback; job != nil {
		m.playback = nil
		job.Cancel()
	}
	m.pending = nil
	m.toListeningLocked(pcm)
}

func (m *Machine) bufferPendingLocked(pcm []byte) {
	if len(m.pending) >= m.cfg.PendingCap {
		m.pending = m.pending[1:]
	}
	m.pending = append(m.pending, pcm)
}

// drainPendingLocked replays buffered frames through the normal path. If a
// replayed frame closes a new utterance, the remainder stays buffered for the
// next drain.
func (m *Machine) drainPendingLocked() {
	pending := m.pending
	m.pending = nil
	for i, pcm := range pending {
		if m.state != StateIdle && m.state != StateListening {
			m.pending = append(m.pending, pending[i:]...)
			return
		}
		if err := m.processLocked(pcm); err != nil {
			slog.Warn("turn: dropping buffered frame", "call", m.cfg.CallID, "err", err)
		}
	}
}

func (m *Machine) setStateLocked(to State) {
	if m.state == to {
		return
	}
	from := m.state
	m.state = to
	if m.deps.Hooks.OnStateChange != nil {
		m.deps.Hooks.OnStateChange(m.cfg.CallID, from, to)
	}
}

func (m *Machine) nextSeq() uint64 {
	return m.seq.Add(1) - 1
}
