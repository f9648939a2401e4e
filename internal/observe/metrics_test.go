package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"voxline.stt.duration", m.STTDuration},
		{"voxline.llm.duration", m.LLMDuration},
		{"voxline.tts.duration", m.TTSDuration},
		{"voxline.turn.duration", m.TurnDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is %T, want Histogram[float64]", tc.name, met.Data)
			}
			if len(hist.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("count = %d, want 2", got)
			}
		})
	}
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.FramesIn.Add(ctx, 100)
	m.FramesOut.Add(ctx, 80)
	m.BargeIns.Add(ctx, 1)
	m.Apologies.Add(ctx, 2)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"voxline.frames.in", 100},
		{"voxline.frames.out", 80},
		{"voxline.barge_ins", 1},
		{"voxline.apologies", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is %T, want Sum[int64]", tc.name, met.Data)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordProviderRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderError(ctx, "elevenlabs", "tts")

	rm := collect(t, reader)

	reqs := findMetric(rm, "voxline.provider.requests")
	if reqs == nil {
		t.Fatal("provider requests metric not found")
	}
	sum := reqs.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
	}
	dp := sum.DataPoints[0]
	if dp.Value != 2 {
		t.Errorf("value = %d, want 2", dp.Value)
	}
	if v, ok := dp.Attributes.Value(attribute.Key("provider")); !ok || v.AsString() != "openai" {
		t.Errorf("provider attribute = %v", v)
	}

	errs := findMetric(rm, "voxline.provider.errors")
	if errs == nil {
		t.Fatal("provider errors metric not found")
	}
	if got := errs.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
}

func TestCallLifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CallStarted(ctx)
	m.CallStarted(ctx)
	m.CallEnded(ctx, "stop")

	rm := collect(t, reader)

	active := findMetric(rm, "voxline.active_calls")
	if active == nil {
		t.Fatal("active calls metric not found")
	}
	if got := active.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("active calls = %d, want 1", got)
	}

	calls := findMetric(rm, "voxline.calls")
	if calls == nil {
		t.Fatal("calls metric not found")
	}
	dp := calls.Data.(metricdata.Sum[int64]).DataPoints[0]
	if dp.Value != 1 {
		t.Errorf("calls = %d, want 1", dp.Value)
	}
	if v, ok := dp.Attributes.Value(attribute.Key("reason")); !ok || v.AsString() != "stop" {
		t.Errorf("reason attribute = %v", v)
	}
}
