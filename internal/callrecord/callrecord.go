// Package callrecord persists finalized call summaries. The voice pipeline
// emits one Summary when a stream closes; storage is this package's only
// concern and no pipeline logic depends on it.
package callrecord

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxline-ai/voxline/internal/dialog"
	"github.com/voxline-ai/voxline/internal/turn"
)

// Summary is the durable record of one finished call.
type Summary struct {
	CallID      string
	StreamID    string
	CallerPhone string
	StartedAt   time.Time
	EndedAt     time.Time
	Turns       []dialog.Turn

	// Lead holds the structured fields mined from the caller's side of the
	// conversation.
	Lead dialog.LeadFields

	// Apologies and BargeIns are per-call quality signals.
	Apologies int
	BargeIns  int
}

// FromSnapshot builds a Summary from the call's final state, mining the lead
// fields from the turn history.
func FromSnapshot(snap turn.Snapshot, endedAt time.Time) Summary {
	return Summary{
		CallID:      snap.CallID,
		StreamID:    snap.StreamID,
		CallerPhone: snap.CallerPhone,
		StartedAt:   snap.StartedAt,
		EndedAt:     endedAt,
		Turns:       snap.Turns,
		Lead:        dialog.ExtractLeadFields(snap.Turns),
		Apologies:   snap.Apologies,
		BargeIns:    snap.BargeIns,
	}
}

// Sink receives finalized call summaries.
//
// Implementations must be safe for concurrent use; calls finish in parallel.
type Sink interface {
	// SaveSummary persists one summary. Failures are logged by the caller
	// and never affect call handling.
	SaveSummary(ctx context.Context, summary Summary) error
}

// Noop discards summaries with a log line. Used when no persistence backend
// is configured.
type Noop struct{}

// SaveSummary implements Sink.
func (Noop) SaveSummary(_ context.Context, summary Summary) error {
	slog.Info("callrecord: discarding summary, no sink configured",
		"call", summary.CallID, "turns", len(summary.Turns))
	return nil
}

var _ Sink = Noop{}
