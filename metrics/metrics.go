// Package metrics is the observability sink of the pipeline.
//
// Event names follow <component>.<queue_or_table>.<event>, for example
// claimer.signatures.depth or persister.signature_validations.inserted.
package metrics

import (
	"context"
	"strings"
	"time"
)

// Recorder receives pipeline events. Implementations must be safe for
// concurrent use and must never block the pipeline on failure.
type Recorder interface {
	Count(ctx context.Context, name string, value int64)
	Gauge(ctx context.Context, name string, value int64)
	Timing(ctx context.Context, name string, d time.Duration)
}

// Name builds an event name. The target segment is normalized so queue names
// containing dots or slashes cannot add segments.
func Name(component, target, event string) string {
	return component + "." + normalize(target) + "." + event
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}

type Nop struct{}

func (Nop) Count(context.Context, string, int64)          {}
func (Nop) Gauge(context.Context, string, int64)          {}
func (Nop) Timing(context.Context, string, time.Duration) {}

// Ensure returns r, or Nop when r is nil.
func Ensure(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

type multi []Recorder

// Multi fans events out to every non-nil recorder.
func Multi(rs ...Recorder) Recorder {
	out := make(multi, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Count(ctx context.Context, name string, v int64) {
	for _, r := range m {
		r.Count(ctx, name, v)
	}
}

func (m multi) Gauge(ctx context.Context, name string, v int64) {
	for _, r := range m {
		r.Gauge(ctx, name, v)
	}
}

func (m multi) Timing(ctx context.Context, name string, d time.Duration) {
	for _, r := range m {
		r.Timing(ctx, name, d)
	}
}
