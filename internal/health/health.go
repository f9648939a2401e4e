// Package health provides the HTTP liveness and readiness probes for the
// voice gateway.
//
// Two endpoints are served:
//
//   - /healthz reports liveness. It always answers 200 and includes the
//     number of media streams currently connected when an active-call
//     counter is installed.
//   - /readyz reports readiness. It answers 200 only when every registered
//     [Checker] passes, so a gateway with an unreachable call-record store
//     is taken out of rotation before it accepts new calls.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail"), an optional "active_calls" count, and a "checks" map with the
// outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. A hung database ping must
// not hold the probe past the orchestrator's own timeout.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and a non-nil error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "call_records"). It appears
	// as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for both probes.
type result struct {
	Status      string            `json:"status"`
	ActiveCalls *int              `json:"active_calls,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz probes. The checker list is fixed
// at construction time; ActiveCalls may be installed once afterwards, before
// the handler starts serving requests.
type Handler struct {
	checkers []Checker

	// ActiveCalls, when non-nil, is invoked on each liveness request and its
	// value reported as "active_calls". The gateway installs its live media
	// stream count here.
	ActiveCalls func() int
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request, sequentially in the order provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. A process that can serve HTTP is alive, so
// the status is always "ok"; the payload additionally carries the current
// active call count when a counter is installed.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.ActiveCalls != nil {
		n := h.ActiveCalls()
		res.ActiveCalls = &n
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe. Every registered [Checker] runs with a
// [checkTimeout] deadline derived from the request context; any failure
// turns the response into a 503 with the failing checks named.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code. On encoding
// failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
