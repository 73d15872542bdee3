package metrics

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Log writes every event at debug level. It backs the debug-logging toggle.
type Log struct {
	logger glog.Logger
}

func NewLog(logger glog.Logger) Log {
	return Log{logger: glog.Ensure(logger)}
}

func (l Log) Count(ctx context.Context, name string, v int64) {
	l.logger.WithContext(ctx).Debug("metric", "name", name, "kind", "count", "value", v)
}

func (l Log) Gauge(ctx context.Context, name string, v int64) {
	l.logger.WithContext(ctx).Debug("metric", "name", name, "kind", "gauge", "value", v)
}

func (l Log) Timing(ctx context.Context, name string, d time.Duration) {
	l.logger.WithContext(ctx).Debug("metric", "name", name, "kind", "timing", "value_ms", d.Milliseconds())
}
