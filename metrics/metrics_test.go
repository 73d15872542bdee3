package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestName_NormalizesTarget(t *testing.T) {
	cases := map[string]string{
		"signatures":      "claimer.signatures.depth",
		"petitions.sigs":  "claimer.petitions_sigs.depth",
		"  ":              "claimer.unknown.depth",
		"https://x/q-1_a": "claimer.https___x_q-1_a.depth",
	}
	for in, want := range cases {
		if got := Name("claimer", in, "depth"); got != want {
			t.Fatalf("Name(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	r := Multi(a, nil, b)
	ctx := context.Background()

	r.Count(ctx, "c", 2)
	r.Count(ctx, "c", 3)
	r.Gauge(ctx, "g", 7)
	r.Timing(ctx, "t", time.Second)

	for _, m := range []*Memory{a, b} {
		if m.Counter("c") != 5 {
			t.Fatalf("expected count 5, got %d", m.Counter("c"))
		}
		if v, ok := m.LastGauge("g"); !ok || v != 7 {
			t.Fatalf("expected gauge 7, got %d %v", v, ok)
		}
		if ts := m.Timings("t"); len(ts) != 1 || ts[0] != time.Second {
			t.Fatalf("unexpected timings %v", ts)
		}
	}
}

func TestEnsure(t *testing.T) {
	if _, ok := Ensure(nil).(Nop); !ok {
		t.Fatalf("expected Nop for nil recorder")
	}
	m := NewMemory()
	if Ensure(m) != Recorder(m) {
		t.Fatalf("expected recorder passthrough")
	}
}

func TestOTel_CachesInstruments(t *testing.T) {
	o := NewOTel(noop.NewMeterProvider().Meter("test"), func(name string, err error) {
		t.Fatalf("unexpected instrument error for %s: %v", name, err)
	})
	ctx := context.Background()

	o.Count(ctx, "persister.signature_validations.inserted", 1)
	o.Count(ctx, "persister.signature_validations.inserted", 4)
	o.Gauge(ctx, "claimer.signatures.depth", 3)
	o.Timing(ctx, "pipeline.validations.duration", 15*time.Millisecond)

	if len(o.counters) != 1 || len(o.gauges) != 1 || len(o.histograms) != 1 {
		t.Fatalf("expected one cached instrument per kind, got %d/%d/%d",
			len(o.counters), len(o.gauges), len(o.histograms))
	}
}

func TestOTel_RecordsThroughSDK(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	o := NewOTel(mp.Meter("test"), nil)

	o.Count(ctx, "claimer.validations.claimed", 3)
	o.Count(ctx, "claimer.validations.claimed", 2)
	o.Gauge(ctx, "claimer.validations.depth", 7)
	o.Timing(ctx, "pipeline.validations.duration", 40*time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			got[m.Name] = m.Data
		}
	}

	sum, ok := got["claimer.validations.claimed"].(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 5 {
		t.Fatalf("unexpected counter %#v", got["claimer.validations.claimed"])
	}
	gauge, ok := got["claimer.validations.depth"].(metricdata.Gauge[int64])
	if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 7 {
		t.Fatalf("unexpected gauge %#v", got["claimer.validations.depth"])
	}
	hist, ok := got["pipeline.validations.duration"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != 40 {
		t.Fatalf("unexpected histogram %#v", got["pipeline.validations.duration"])
	}
}
