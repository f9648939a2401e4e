// Package registry tracks last-activity timestamps for active call streams
// and sweeps sessions whose carrier silently dropped the connection.
//
// The registry holds no pipeline logic: it is a concurrency-safe table used
// purely for cross-session supervision (stale-session sweeping, health
// metrics). It is injected into the gateway rather than living as process
// globals, so tests can construct isolated instances.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry is a concurrency-safe table of active streams keyed by call ID.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]time.Time

	// now is stubbed in tests.
	now func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		streams: make(map[string]time.Time),
		now:     time.Now,
	}
}

// MarkStart registers a new stream, recording the current time as its last
// activity.
func (r *Registry) MarkStart(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = r.now()
}

// Touch updates the last-activity timestamp for id. Unknown IDs are ignored;
// a media frame racing a stop message must not resurrect a cleared session.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.streams[id]; ok {
		r.streams[id] = r.now()
	}
}

// Get returns the last-activity time for id and whether it is registered.
func (r *Registry) Get(id string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.streams[id]
	return t, ok
}

// Clear removes id from the registry.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Active returns the number of registered streams.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// stale returns the IDs idle longer than ceiling.
func (r *Registry) stale(ceiling time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := r.now().Add(-ceiling)
	var ids []string
	for id, last := range r.streams {
		if last.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sweeper periodically closes sessions with no inbound activity beyond a
// ceiling, reclaiming resources from carriers that drop a connection without
// a stop message.
type Sweeper struct {
	registry *Registry
	ceiling  time.Duration
	interval time.Duration

	// OnStale is invoked once per stale call ID. It must be safe to call from
	// the sweeper goroutine and should trigger the session's normal close
	// path (which clears the registry entry).
	onStale func(id string)
}

// NewSweeper creates a Sweeper over reg. onStale is called for each session
// idle longer than ceiling; interval controls how often the scan runs.
func NewSweeper(reg *Registry, ceiling, interval time.Duration, onStale func(id string)) *Sweeper {
	return &Sweeper{
		registry: reg,
		ceiling:  ceiling,
		interval: interval,
		onStale:  onStale,
	}
}

// Run scans for stale sessions until ctx is cancelled. It always returns
// ctx.Err(), making it suitable for errgroup supervision.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, id := range s.registry.stale(s.ceiling) {
				slog.Warn("registry: closing stale session", "call_id", id, "ceiling", s.ceiling)
				s.onStale(id)
			}
		}
	}
}
