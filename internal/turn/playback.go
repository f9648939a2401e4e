package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/pkg/audio"
)

// FrameSink receives outbound audio frames for transmission to the carrier.
// The media gateway implements it over the call's websocket.
type FrameSink interface {
	// WriteFrame transmits one frame. It may block until the frame is
	// accepted; ctx aborts a blocked write.
	WriteFrame(ctx context.Context, frame audio.AudioFrame) error
}

// MarkSink is an optional FrameSink extension. A sink that implements it
// receives a named mark after the last frame of a reply, so the carrier can
// report when the caller has actually heard the whole reply.
type MarkSink interface {
	WriteMark(ctx context.Context, name string) error
}

// PlaybackJob streams the audio of one assistant reply to a FrameSink at the
// fixed frame cadence. At most one job is active per call. Cancel stops the
// stream within one frame interval; a cancelled job never emits further
// frames even when more synthesised audio is buffered.
type PlaybackJob struct {
	frames   <-chan []byte
	sink     FrameSink
	interval time.Duration
	nextSeq  func() uint64
	cancel   context.CancelFunc

	// onFirstFrame, when set, fires once after the first successful
	// WriteFrame. Set before run starts; never called on a job that is
	// cancelled before its first frame.
	onFirstFrame func()

	mu        sync.Mutex
	sent      int
	completed bool
}

func newPlaybackJob(frames <-chan []byte, sink FrameSink, interval time.Duration, nextSeq func() uint64, cancel context.CancelFunc) *PlaybackJob {
	return &PlaybackJob{
		frames:   frames,
		sink:     sink,
		interval: interval,
		nextSeq:  nextSeq,
		cancel:   cancel,
	}
}

// Cancel stops the job. Safe to call multiple times and from any goroutine.
func (j *PlaybackJob) Cancel() { j.cancel() }

// Sent returns the number of frames transmitted so far.
func (j *PlaybackJob) Sent() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sent
}

// Completed reports whether the frame stream drained naturally, without
// cancellation or a sink failure.
func (j *PlaybackJob) Completed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completed
}

// run transmits frames in generation order until the stream drains or ctx is
// cancelled, then invokes onDone exactly once. The ticker enforces the
// real-time cadence; carrier playback cannot absorb frames faster than that.
func (j *PlaybackJob) run(ctx context.Context, onDone func(*PlaybackJob)) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	defer onDone(j)

	start := time.Now()
	var lastSeq uint64
	for {
		var payload []byte
		select {
		case <-ctx.Done():
			return
		case p, ok := <-j.frames:
			if !ok {
				j.mu.Lock()
				j.completed = true
				sent := j.sent
				j.mu.Unlock()
				if sent > 0 {
					j.markEnd(ctx, lastSeq)
				}
				return
			}
			payload = p
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame := audio.AudioFrame{
			Payload:   payload,
			Seq:       j.nextSeq(),
			Timestamp: time.Since(start),
		}
		if err := j.sink.WriteFrame(ctx, frame); err != nil {
			if ctx.Err() == nil {
				slog.Error("turn: playback write failed", "err", err)
			}
			return
		}
		lastSeq = frame.Seq

		j.mu.Lock()
		j.sent++
		first := j.sent == 1
		j.mu.Unlock()
		if first && j.onFirstFrame != nil {
			j.onFirstFrame()
		}
	}
}

// markEnd follows a fully drained stream with a carrier mark named after the
// reply's last frame. Sinks without mark support are skipped; cancelled jobs
// never mark.
func (j *PlaybackJob) markEnd(ctx context.Context, lastSeq uint64) {
	ms, ok := j.sink.(MarkSink)
	if !ok {
		return
	}
	if err := ms.WriteMark(ctx, fmt.Sprintf("reply-%d", lastSeq)); err != nil && ctx.Err() == nil {
		slog.Warn("turn: playback mark failed", "err", err)
	}
}
