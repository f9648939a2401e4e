package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxline-ai/voxline/internal/callrecord"
	"github.com/voxline-ai/voxline/internal/health"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/internal/registry"
	"github.com/voxline-ai/voxline/internal/turn"
)

const (
	// MediaPath is the websocket endpoint the carrier streams media to.
	MediaPath = "/media"

	shutdownTimeout = 10 * time.Second
)

// MachineBuilder creates one turn machine per incoming call. The sink is the
// gateway's websocket transmit path for that call; implementations wire it
// together with the call's providers and configuration.
type MachineBuilder func(ctx context.Context, start StartPayload, sink turn.FrameSink) (*turn.Machine, error)

// Config tunes the Gateway.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8080".
	ListenAddr string

	// WebhookSecret authenticates carrier upgrade requests. Empty disables
	// verification.
	WebhookSecret string
}

// Gateway serves the carrier media websocket plus the operational HTTP
// endpoints, and owns the set of live call sessions.
type Gateway struct {
	cfg     Config
	build   MachineBuilder
	reg     *registry.Registry
	metrics *observe.Metrics
	records callrecord.Sink
	checks  *health.Handler

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Gateway. build, reg, metrics, and records are required;
// checks may be nil, which serves a liveness-only health handler.
func New(cfg Config, build MachineBuilder, reg *registry.Registry, metrics *observe.Metrics, records callrecord.Sink, checks *health.Handler) (*Gateway, error) {
	if build == nil {
		return nil, errors.New("gateway: machine builder is required")
	}
	if reg == nil {
		return nil, errors.New("gateway: stream registry is required")
	}
	if metrics == nil {
		return nil, errors.New("gateway: metrics are required")
	}
	if records == nil {
		return nil, errors.New("gateway: call record sink is required")
	}
	if checks == nil {
		checks = health.New()
	}
	return &Gateway{
		cfg:      cfg,
		build:    build,
		reg:      reg,
		metrics:  metrics,
		records:  records,
		checks:   checks,
		sessions: make(map[string]*session),
	}, nil
}

// Handler returns the gateway's HTTP routes. The media endpoint is served
// bare: the metrics middleware replaces the ResponseWriter and would break
// the websocket upgrade.
func (g *Gateway) Handler() http.Handler {
	mw := observe.Middleware(g.metrics)
	mux := http.NewServeMux()
	mux.HandleFunc(MediaPath, g.handleMedia)
	mux.Handle("/metrics", mw(promhttp.Handler()))
	mux.Handle("/healthz", mw(http.HandlerFunc(g.checks.Healthz)))
	mux.Handle("/readyz", mw(http.HandlerFunc(g.checks.Readyz)))
	return mux
}

// Serve listens on the configured address and blocks until ctx is cancelled
// or the server fails. On cancellation it closes every live session and
// drains the HTTP server.
func (g *Gateway) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", g.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler: g.Handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	slog.Info("gateway: listening", slog.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		g.closeAll("shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: serve: %w", err)
	}
}

// CloseStale ends the session for the given call id, if it is still live.
// The registry sweeper uses it to reap streams that stopped sending media
// without a stop message.
func (g *Gateway) CloseStale(callID string) {
	g.mu.Lock()
	s := g.sessions[callID]
	g.mu.Unlock()
	if s == nil {
		return
	}
	slog.Warn("gateway: reaping stale stream", slog.String("call_id", callID))
	s.finish("timeout")
}

// ActiveSessions reports the number of live call sessions.
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Gateway) handleMedia(w http.ResponseWriter, r *http.Request) {
	if !verifySignature(g.cfg.WebhookSecret, r) {
		slog.Warn("gateway: rejecting connection with bad signature",
			slog.String("remote", r.RemoteAddr))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("gateway: websocket accept failed",
			slog.String("remote", r.RemoteAddr), slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	s := &session{g: g, conn: conn}
	s.run(r.Context())
}

func (g *Gateway) addSession(callID string, s *session) {
	g.mu.Lock()
	g.sessions[callID] = s
	g.mu.Unlock()
}

func (g *Gateway) removeSession(callID string) {
	g.mu.Lock()
	delete(g.sessions, callID)
	g.mu.Unlock()
}

func (g *Gateway) closeAll(reason string) {
	g.mu.Lock()
	open := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()
	for _, s := range open {
		s.finish(reason)
	}
}
