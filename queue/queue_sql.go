package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

const backendSQL = "sql"

type SQLConfig struct {
	// Lease is how long a claimed row stays invisible to other claimants.
	Lease time.Duration
	// MaxBatch caps rows per claim statement and per delete statement.
	MaxBatch int
}

func (c *SQLConfig) validate() {
	if c.Lease <= 0 {
		panic("lease must be > 0")
	}
	if c.MaxBatch < 1 {
		panic("max batch must be at least 1")
	}
}

var DefaultSQLConfig = SQLConfig{
	Lease:    5 * time.Minute,
	MaxBatch: 100,
}

type queueItemRecord struct {
	bun.BaseModel `bun:"table:preprocessing_queue_items,alias:pqi"`

	ID          string         `bun:"id,pk"`
	QueueName   string         `bun:"queue_name,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	LeaseToken  *string        `bun:"lease_token"`
	LeasedUntil *time.Time     `bun:"leased_until,nullzero"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// SQL is a relational-table-backed queue. All named queues share one table,
// partitioned by queue_name. Claims are single UPDATE ... RETURNING
// statements, so a row is leased by exactly one claimant.
type SQL struct {
	cfg  SQLConfig
	db   *bun.DB
	repo repository.Repository[*queueItemRecord]
	name string
	now  func() time.Time
}

func NewSQL(db *bun.DB, queueName string, cfg SQLConfig) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("bun db is nil")
	}
	if strings.TrimSpace(queueName) == "" {
		return nil, fmt.Errorf("queue name is empty")
	}
	cfg.validate()

	repo := repository.NewRepository[*queueItemRecord](db, queueItemHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("invalid queue repository wiring: %w", err)
		}
	}

	return &SQL{
		cfg:  cfg,
		db:   db,
		repo: repo,
		name: queueName,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (q *SQL) Name() string  { return q.name }
func (q *SQL) MaxBatch() int { return q.cfg.MaxBatch }

// CreateQueue provisions the shared table and its claim index.
func (q *SQL) CreateQueue(ctx context.Context) error {
	if _, err := q.db.NewCreateTable().
		Model((*queueItemRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return backendError(err, backendSQL, q.name, "create table")
	}
	if _, err := q.db.NewCreateIndex().
		Model((*queueItemRecord)(nil)).
		Index("preprocessing_queue_items_claim_idx").
		Column("queue_name", "leased_until", "created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return backendError(err, backendSQL, q.name, "create index")
	}
	return nil
}

func (q *SQL) Enqueue(ctx context.Context, p Payload) error {
	if p == nil {
		return invalidInput(backendSQL, q.name, "payload is nil")
	}
	record := &queueItemRecord{
		ID:        uuid.NewString(),
		QueueName: q.name,
		Payload:   map[string]any(p.Clone()),
		CreatedAt: q.now(),
	}
	_, err := q.repo.Create(ctx, record)
	return backendError(err, backendSQL, q.name, "enqueue")
}

func (q *SQL) ClaimOne(ctx context.Context) (Item, bool, error) {
	items, err := q.claim(ctx, 1)
	if err != nil || len(items) == 0 {
		return Item{}, false, err
	}
	return items[0], true, nil
}

func (q *SQL) ClaimMany(ctx context.Context, max int) ([]Item, error) {
	if max > q.cfg.MaxBatch {
		max = q.cfg.MaxBatch
	}
	if max < 1 {
		return nil, nil
	}
	return q.claim(ctx, max)
}

func (q *SQL) claim(ctx context.Context, limit int) ([]Item, error) {
	now := q.now()
	token := uuid.NewString()
	leasedUntil := now.Add(q.cfg.Lease)

	lock := ""
	if q.db.Dialect().Name() == dialect.PG {
		lock = "FOR UPDATE SKIP LOCKED"
	}

	var records []queueItemRecord
	err := q.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimable AS (
	SELECT id
	FROM preprocessing_queue_items
	WHERE queue_name = ?
	  AND (leased_until IS NULL OR leased_until <= ?)
	ORDER BY created_at ASC, id ASC
	LIMIT ?
	` + lock + `
)
UPDATE preprocessing_queue_items
SET lease_token = ?, leased_until = ?
WHERE id IN (SELECT id FROM claimable)
  AND (leased_until IS NULL OR leased_until <= ?)
RETURNING
	id,
	queue_name,
	payload,
	lease_token,
	leased_until,
	created_at
`
		return tx.NewRaw(
			query,
			q.name,
			now,
			limit,
			token,
			leasedUntil,
			now,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, backendError(err, backendSQL, q.name, "claim")
	}

	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, Item{
			ID:      r.ID,
			Handle:  token,
			Payload: Payload(r.Payload),
		})
	}
	return items, nil
}

// DeleteOne removes the row only while the caller still holds its lease.
// A row whose lease expired and was reclaimed is left to its new owner.
func (q *SQL) DeleteOne(ctx context.Context, item Item) error {
	_, err := q.db.NewDelete().
		Model((*queueItemRecord)(nil)).
		Where("id = ?", item.ID).
		Where("lease_token = ?", item.Handle).
		Exec(ctx)
	return backendError(err, backendSQL, q.name, "delete")
}

func (q *SQL) DeleteMany(ctx context.Context, items []Item) error {
	return chunkBounds(len(items), q.cfg.MaxBatch, func(start, end int) error {
		ids := make([]string, 0, end-start)
		tokens := make([]string, 0, end-start)
		seen := make(map[string]struct{}, end-start)
		for _, it := range items[start:end] {
			ids = append(ids, it.ID)
			if _, ok := seen[it.Handle]; !ok {
				seen[it.Handle] = struct{}{}
				tokens = append(tokens, it.Handle)
			}
		}
		_, err := q.db.NewDelete().
			Model((*queueItemRecord)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Where("lease_token IN (?)", bun.In(tokens)).
			Exec(ctx)
		return backendError(err, backendSQL, q.name, "delete batch")
	})
}

func (q *SQL) Count(ctx context.Context) (int64, error) {
	n, err := q.db.NewSelect().
		Model((*queueItemRecord)(nil)).
		Where("queue_name = ?", q.name).
		Count(ctx)
	if err != nil {
		return 0, backendError(err, backendSQL, q.name, "count")
	}
	return int64(n), nil
}

func queueItemHandlers() repository.ModelHandlers[*queueItemRecord] {
	return repository.ModelHandlers[*queueItemRecord]{
		NewRecord: func() *queueItemRecord {
			return &queueItemRecord{}
		},
		GetID: func(record *queueItemRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(strings.TrimSpace(record.ID))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *queueItemRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *queueItemRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

var _ BulkBackend = (*SQL)(nil)
