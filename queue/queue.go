package queue

import (
	"context"
	"strings"
)

// KeyField is the payload field that uniquely identifies a signature
// validation request across queues and destination tables.
const KeyField = "secret_validation_key"

// Payload is the loosely typed body of a queued request.
//
// Values are whatever the backend decoded: strings, float64/int64 numbers,
// bools, nil, nested maps. The sanitizer coerces them against a schema before
// anything is written to a destination table.
type Payload map[string]any

// Key returns the trimmed uniqueness key, or false when the payload does not
// carry a usable one.
func (p Payload) Key() (string, bool) {
	raw, ok := p[KeyField]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Item is one claimed unit of work.
//
// Handle is the backend-specific lease token (an SQS receipt handle, a row
// lease token, a document lease token). It is only valid while the lease is
// held and is required to delete the item.
type Item struct {
	ID      string
	Handle  string
	Payload Payload
}

// Backend is the capability set every queue implementation provides.
//
// ClaimOne leases a single unclaimed item; ok is false when nothing is
// available. Count is approximate and must only be used for observability and
// the empty-queue fast path.
type Backend interface {
	Name() string
	CreateQueue(ctx context.Context) error
	Enqueue(ctx context.Context, p Payload) error
	ClaimOne(ctx context.Context) (item Item, ok bool, err error)
	DeleteOne(ctx context.Context, item Item) error
	Count(ctx context.Context) (int64, error)
}

// BulkBackend is implemented by backends whose transport can claim and delete
// several items per request. MaxBatch is the hard per-request ceiling; ClaimMany
// never returns more than min(max, MaxBatch()) items and DeleteMany chunks its
// input to MaxBatch() internally.
type BulkBackend interface {
	Backend
	MaxBatch() int
	ClaimMany(ctx context.Context, max int) ([]Item, error)
	DeleteMany(ctx context.Context, items []Item) error
}

// AsBulk reports whether b exposes the bulk capability.
func AsBulk(b Backend) (BulkBackend, bool) {
	bulk, ok := b.(BulkBackend)
	if !ok || bulk.MaxBatch() < 1 {
		return nil, false
	}
	return bulk, true
}

func chunkBounds(n, size int, fn func(start, end int) error) error {
	if size < 1 {
		size = 1
	}
	for i := 0; i < n; i += size {
		end := i + size
		if end > n {
			end = n
		}
		if err := fn(i, end); err != nil {
			return err
		}
	}
	return nil
}
