package callrecord

import (
	"context"
	"testing"
	"time"

	"github.com/voxline-ai/voxline/internal/dialog"
	"github.com/voxline-ai/voxline/internal/turn"
)

func TestFromSnapshot(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	ended := time.Now()
	snap := turn.Snapshot{
		CallID:      "call-1",
		StreamID:    "stream-1",
		CallerPhone: "+972501234567",
		StartedAt:   started,
		Turns: []dialog.Turn{
			{Role: dialog.RoleCaller, Text: "אני מחפש דירה באזור חולון", At: started},
			{Role: dialog.RoleAssistant, Text: "מה התקציב?", At: started},
			{Role: dialog.RoleCaller, Text: "עד 2 מיליון", At: started},
		},
		Apologies: 1,
		BargeIns:  2,
	}

	s := FromSnapshot(snap, ended)
	if s.CallID != "call-1" || s.CallerPhone != "+972501234567" {
		t.Errorf("identity fields = %q %q", s.CallID, s.CallerPhone)
	}
	if !s.EndedAt.Equal(ended) || !s.StartedAt.Equal(started) {
		t.Error("timestamps not carried over")
	}
	if len(s.Turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(s.Turns))
	}
	if s.Lead.PropertyType != "apartment" {
		t.Errorf("lead property type = %q, want apartment", s.Lead.PropertyType)
	}
	if s.Lead.Area != "חולון" {
		t.Errorf("lead area = %q, want חולון", s.Lead.Area)
	}
	if s.Apologies != 1 || s.BargeIns != 2 {
		t.Errorf("quality counters = %d %d", s.Apologies, s.BargeIns)
	}
}

func TestNoopSink(t *testing.T) {
	var sink Sink = Noop{}
	if err := sink.SaveSummary(context.Background(), Summary{CallID: "call-1"}); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
}
