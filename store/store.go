// Package store is the relational destination the persister writes to.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open returns a bun handle for driver, which is sqlite3 or postgres.
func Open(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "sqlite":
		sqlDB, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer; shared-cache in-memory databases live as long as a connection
		sqlDB.SetMaxOpenConns(1)
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case DriverPostgres, "postgresql", "pg":
		sqlDB, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	default:
		return nil, goerrors.New(fmt.Sprintf("store: unsupported driver %q", driver), goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"driver": driver})
	}
}

// Destination reads and writes the destination tables named by schema.
type Destination struct {
	db *bun.DB
}

func NewDestination(db *bun.DB) (*Destination, error) {
	if db == nil {
		return nil, fmt.Errorf("bun db is nil")
	}
	return &Destination{db: db}, nil
}

func (d *Destination) DB() *bun.DB { return d.db }

// CreateTables creates every destination table if missing.
func (d *Destination) CreateTables(ctx context.Context) error {
	for _, t := range schema.Tables() {
		s := schema.MustLookup(t)
		if _, err := d.db.ExecContext(ctx, createTableSQL(d.db.Dialect().Name(), s)); err != nil {
			return storeError(err, t, "create_table", 0)
		}
	}
	return nil
}

// ExistingKeys returns the subset of keys already stored in table.
func (d *Destination) ExistingKeys(ctx context.Context, table schema.Table, keys []string) ([]string, error) {
	if _, err := schema.Lookup(table); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var found []string
	err := d.db.NewSelect().
		TableExpr("?", bun.Ident(string(table))).
		Column(queue.KeyField).
		Where("? IN (?)", bun.Ident(queue.KeyField), bun.In(keys)).
		Scan(ctx, &found)
	if err != nil {
		return nil, storeError(err, table, "existing_keys", len(keys))
	}
	return found, nil
}

// InsertBatch writes rows in a single multi-row INSERT inside one
// transaction. Either every row is stored or none is. Every row needs a
// non-empty secret_validation_key; missing columns are stored as NULL.
func (d *Destination) InsertBatch(ctx context.Context, table schema.Table, rows []map[string]any) error {
	s, err := schema.Lookup(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	model, err := rowModel(s.Table, rows)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, fmt.Sprintf("store insert %s", table)).
			WithMetadata(map[string]any{"table": string(table), "rows": len(rows)})
	}

	err = d.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(model).Exec(ctx)
		return err
	})
	if err != nil {
		return storeError(err, table, "insert", len(rows))
	}
	return nil
}

func storeError(err error, table schema.Table, op string, rows int) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("store %s %s", op, table)).
		WithMetadata(map[string]any{
			"table":     string(table),
			"operation": op,
			"rows":      rows,
		})
}

func createTableSQL(d dialect.Name, s schema.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %q (", string(s.Table))
	if d == dialect.PG {
		b.WriteString(`"id" BIGSERIAL PRIMARY KEY`)
	} else {
		b.WriteString(`"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	}
	for _, col := range s.Insertable() {
		f := s.Fields[col]
		fmt.Fprintf(&b, ", %q %s", col, columnType(d, f))
		if col == queue.KeyField {
			b.WriteString(" NOT NULL UNIQUE")
		}
	}
	b.WriteString(")")
	return b.String()
}

func columnType(d dialect.Name, f schema.Field) string {
	switch f.Type {
	case schema.Integer:
		return "BIGINT"
	case schema.Timestamp:
		if d == dialect.PG {
			return "TIMESTAMPTZ"
		}
		return "TIMESTAMP"
	default:
		if f.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
		}
		return "TEXT"
	}
}
