package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// OTel records events as OpenTelemetry instruments: counts become Int64Counter,
// gauges Int64Gauge and timings a Float64Histogram in milliseconds.
// Instruments are created lazily and cached by name.
type OTel struct {
	meter   metric.Meter
	onError func(name string, err error)

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Int64Gauge
	histograms map[string]metric.Float64Histogram
}

// NewOTel wraps meter. onError, if non-nil, is called when an instrument
// cannot be created; the event is dropped.
func NewOTel(meter metric.Meter, onError func(name string, err error)) *OTel {
	if meter == nil {
		panic("meter is required")
	}
	return &OTel{
		meter:      meter,
		onError:    onError,
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Int64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (o *OTel) fail(name string, err error) {
	if o.onError != nil {
		o.onError(name, err)
	}
}

func (o *OTel) Count(ctx context.Context, name string, v int64) {
	o.mu.Lock()
	c, ok := o.counters[name]
	if !ok {
		var err error
		c, err = o.meter.Int64Counter(name)
		if err != nil {
			o.mu.Unlock()
			o.fail(name, err)
			return
		}
		o.counters[name] = c
	}
	o.mu.Unlock()
	c.Add(ctx, v)
}

func (o *OTel) Gauge(ctx context.Context, name string, v int64) {
	o.mu.Lock()
	g, ok := o.gauges[name]
	if !ok {
		var err error
		g, err = o.meter.Int64Gauge(name)
		if err != nil {
			o.mu.Unlock()
			o.fail(name, err)
			return
		}
		o.gauges[name] = g
	}
	o.mu.Unlock()
	g.Record(ctx, v)
}

func (o *OTel) Timing(ctx context.Context, name string, d time.Duration) {
	o.mu.Lock()
	h, ok := o.histograms[name]
	if !ok {
		var err error
		h, err = o.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			o.mu.Unlock()
			o.fail(name, err)
			return
		}
		o.histograms[name] = h
	}
	o.mu.Unlock()
	h.Record(ctx, float64(d)/float64(time.Millisecond))
}

var _ Recorder = (*OTel)(nil)
