package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

const backendDocument = "document"

type DocumentConfig struct {
	Lease time.Duration
}

var DefaultDocumentConfig = DocumentConfig{
	Lease: 5 * time.Minute,
}

type queueDocument struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	LeaseToken  string          `json:"lease_token,omitempty"`
	LeasedUntil *time.Time      `json:"leased_until,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Document is a document-store-backed queue on a pebble database. Each item
// is one JSON document keyed by enqueue time, so iteration order is FIFO.
//
// It only supports single-item claim and delete. Claims are serialized by an
// in-process mutex; the pebble database must be owned by this process and
// there must be one Document per queue name.
type Document struct {
	cfg  DocumentConfig
	db   *pebble.DB
	name string
	now  func() time.Time

	mu sync.Mutex
}

func NewDocument(db *pebble.DB, queueName string, cfg DocumentConfig) *Document {
	if db == nil {
		panic("pebble db is required")
	}
	if strings.TrimSpace(queueName) == "" {
		panic("queue name is required")
	}
	if cfg.Lease <= 0 {
		panic("lease must be > 0")
	}
	return &Document{
		cfg:  cfg,
		db:   db,
		name: queueName,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (d *Document) Name() string { return d.name }

func (d *Document) metaKey() []byte { return []byte("queue/" + d.name + "/meta") }

func (d *Document) itemPrefix() []byte { return []byte("queue/" + d.name + "/item/") }

func (d *Document) itemKey(id string) []byte {
	return append(d.itemPrefix(), id...)
}

func (d *Document) CreateQueue(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	exists, err := d.provisioned()
	if err != nil || exists {
		return err
	}
	meta, _ := json.Marshal(map[string]any{"name": d.name, "created_at": d.now()})
	return backendError(d.db.Set(d.metaKey(), meta, pebble.Sync), backendDocument, d.name, "create queue")
}

func (d *Document) provisioned() (bool, error) {
	_, closer, err := d.db.Get(d.metaKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, backendError(err, backendDocument, d.name, "read meta")
	}
	closer.Close()
	return true, nil
}

func (d *Document) Enqueue(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return invalidInput(backendDocument, d.name, fmt.Sprintf("encode payload: %v", err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ok, err := d.provisioned()
	if err != nil {
		return err
	}
	if !ok {
		return backendError(ErrNotProvisioned, backendDocument, d.name, "enqueue")
	}

	now := d.now()
	id := fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString())
	doc, err := json.Marshal(queueDocument{ID: id, Payload: raw, CreatedAt: now})
	if err != nil {
		return invalidInput(backendDocument, d.name, fmt.Sprintf("encode document: %v", err))
	}
	return backendError(d.db.Set(d.itemKey(id), doc, pebble.Sync), backendDocument, d.name, "enqueue")
}

// ClaimOne leases the oldest document whose lease is empty or expired.
// Documents that cannot be decoded are leased as well and returned with a nil
// payload so the caller can discard them.
func (d *Document) ClaimOne(ctx context.Context) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	prefix := d.itemPrefix()
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return Item{}, false, backendError(err, backendDocument, d.name, "claim")
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		key := bytes.Clone(iter.Key())
		id := string(key[len(prefix):])

		var doc queueDocument
		malformed := json.Unmarshal(iter.Value(), &doc) != nil
		if malformed {
			doc = queueDocument{ID: id, CreatedAt: now}
		}
		if doc.LeasedUntil != nil && doc.LeasedUntil.After(now) {
			continue
		}

		until := now.Add(d.cfg.Lease)
		doc.LeaseToken = uuid.NewString()
		doc.LeasedUntil = &until
		encoded, err := json.Marshal(doc)
		if err != nil {
			return Item{}, false, backendError(err, backendDocument, d.name, "claim")
		}
		if err := d.db.Set(key, encoded, pebble.Sync); err != nil {
			return Item{}, false, backendError(err, backendDocument, d.name, "claim")
		}

		item := Item{ID: id, Handle: doc.LeaseToken}
		if !malformed {
			item.Payload = decodeBody(string(doc.Payload))
		}
		return item, true, nil
	}
	return Item{}, false, backendError(iter.Error(), backendDocument, d.name, "claim")
}

// DeleteOne removes the document if the caller still holds its lease.
func (d *Document) DeleteOne(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	key := d.itemKey(item.ID)
	val, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return backendError(err, backendDocument, d.name, "delete")
	}
	var doc queueDocument
	decodeErr := json.Unmarshal(val, &doc)
	closer.Close()
	if decodeErr == nil && doc.LeaseToken != item.Handle {
		return nil
	}
	return backendError(d.db.Delete(key, pebble.Sync), backendDocument, d.name, "delete")
}

func (d *Document) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix := d.itemPrefix()
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return 0, backendError(err, backendDocument, d.name, "count")
	}
	defer iter.Close()

	var n int64
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, backendError(iter.Error(), backendDocument, d.name, "count")
}

func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var _ Backend = (*Document)(nil)
