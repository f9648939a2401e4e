package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxline-ai/voxline/internal/callrecord"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/turn"
	"github.com/voxline-ai/voxline/pkg/audio"
)

// saveTimeout bounds call summary persistence after the socket is gone.
const saveTimeout = 5 * time.Second

// session is one carrier websocket connection and its turn machine. The read
// loop is the only goroutine feeding the machine, so inbound ordering is the
// socket's ordering.
type session struct {
	g    *Gateway
	conn *websocket.Conn

	mu       sync.Mutex
	machine  *turn.Machine
	callID   string
	streamID string
	finished bool
}

func (s *session) run(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway:
				s.finish("stop")
			case ctx.Err() != nil:
				s.finish("shutdown")
			default:
				s.finish("error")
			}
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			slog.Warn("gateway: dropping unparseable message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Event {
		case EventConnected:
			slog.Debug("gateway: carrier connected")
		case EventStart:
			s.handleStart(ctx, msg)
		case EventMedia:
			s.handleMedia(ctx, msg)
		case EventDTMF:
			s.handleDTMF(msg)
		case EventMark:
			slog.Debug("gateway: mark acknowledged")
		case EventStop:
			s.finish("stop")
			return
		default:
			slog.Debug("gateway: ignoring unknown event", slog.String("event", msg.Event))
		}
	}
}

func (s *session) handleStart(ctx context.Context, msg *Message) {
	if msg.Start == nil || msg.Start.CallSID == "" {
		slog.Warn("gateway: start message without a call id")
		return
	}

	s.mu.Lock()
	if s.machine != nil {
		s.mu.Unlock()
		slog.Warn("gateway: duplicate start message", slog.String("call_id", msg.Start.CallSID))
		return
	}
	s.mu.Unlock()

	sink := &wsSink{
		conn:     s.conn,
		streamID: msg.Start.StreamSID,
		metrics:  s.g.metrics,
	}
	m, err := s.g.build(ctx, *msg.Start, sink)
	if err != nil {
		slog.Error("gateway: building call session failed",
			slog.String("call_id", msg.Start.CallSID), slog.String("error", err.Error()))
		s.conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	s.mu.Lock()
	s.machine = m
	s.callID = msg.Start.CallSID
	s.streamID = msg.Start.StreamSID
	s.mu.Unlock()

	s.g.addSession(msg.Start.CallSID, s)
	s.g.reg.MarkStart(msg.Start.CallSID)
	s.g.metrics.CallStarted(ctx)

	slog.Info("gateway: call started",
		slog.String("call_id", msg.Start.CallSID),
		slog.String("stream_id", msg.Start.StreamSID),
		slog.String("from", msg.Start.From))

	m.Start(ctx)
}

func (s *session) handleMedia(ctx context.Context, msg *Message) {
	s.mu.Lock()
	m, callID := s.machine, s.callID
	s.mu.Unlock()
	if m == nil {
		slog.Debug("gateway: media before start, dropping frame")
		return
	}

	payload, err := msg.FramePayload()
	if err != nil {
		slog.Warn("gateway: bad media payload",
			slog.String("call_id", callID), slog.String("error", err.Error()))
		return
	}

	s.g.reg.Touch(callID)
	s.g.metrics.FramesIn.Add(ctx, 1)

	if err := m.HandleFrame(payload); err != nil {
		slog.Warn("gateway: frame rejected",
			slog.String("call_id", callID), slog.String("error", err.Error()))
	}
}

func (s *session) handleDTMF(msg *Message) {
	s.mu.Lock()
	m, callID := s.machine, s.callID
	s.mu.Unlock()
	if m == nil {
		return
	}

	digit := msg.Digit()
	if digit == 0 {
		return
	}
	slog.Info("gateway: digit pressed", slog.String("call_id", callID))
	s.g.reg.Touch(callID)
	m.HandleDigit(digit)
}

// finish ends the session exactly once: closes the machine, persists the
// call summary, releases the registry entry, and closes the socket.
func (s *session) finish(reason string) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	m, callID := s.machine, s.callID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if m != nil {
		if err := m.Close(); err != nil {
			slog.Warn("gateway: closing call session",
				slog.String("call_id", callID), slog.String("error", err.Error()))
		}
		summary := callrecord.FromSnapshot(m.Snapshot(), time.Now())
		if err := s.g.records.SaveSummary(ctx, summary); err != nil {
			slog.Error("gateway: saving call summary failed",
				slog.String("call_id", callID), slog.String("error", err.Error()))
		}
		s.g.reg.Clear(callID)
		s.g.removeSession(callID)
		s.g.metrics.CallEnded(ctx, reason)
		slog.Info("gateway: call ended",
			slog.String("call_id", callID), slog.String("reason", reason))
	}

	s.conn.Close(websocket.StatusNormalClosure, "")
}

// wsSink transmits outbound frames as carrier media messages. The playback
// job calls WriteFrame once per frame interval.
type wsSink struct {
	conn     *websocket.Conn
	streamID string
	metrics  *observe.Metrics
}

var (
	_ turn.FrameSink = (*wsSink)(nil)
	_ turn.MarkSink  = (*wsSink)(nil)
)

func (s *wsSink) WriteFrame(ctx context.Context, frame audio.AudioFrame) error {
	data, err := EncodeMedia(s.streamID, frame.Payload)
	if err != nil {
		return err
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	s.metrics.FramesOut.Add(ctx, 1)
	return nil
}

// WriteMark trails the last frame of a reply so the carrier echoes the mark
// back once playback has drained on its side.
func (s *wsSink) WriteMark(ctx context.Context, name string) error {
	data, err := EncodeMark(s.streamID, name)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}
