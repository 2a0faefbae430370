// Package pgremote is a repohelper.RemoteSource backed by one Postgres table:
//
//	key text primary key, payload bytea not null, updated_at timestamptz not null
//
// Entities are stored as codec-encoded payloads.
package pgremote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/unkn0wn-root/repohelper"
	"github.com/unkn0wn-root/repohelper/codec"
)

const DefaultTable = "repohelper_entities"

// Open connects to Postgres through lib/pq.
func Open(connectionString string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("pgremote: failed to connect to db: %w", err)
	}
	return db, nil
}

type Config[K, E any] struct {
	DB    *sqlx.DB       // required
	Codec codec.Codec[E] // required

	Schema  string         // optional; created by EnsureSchema
	Table   string         // default DefaultTable
	KeyFunc func(K) string // default fmt.Sprint(key)
}

type WriteResult struct {
	RowsAffected int64
}

type Remote[K, E any] struct {
	db      *sqlx.DB
	codec   codec.Codec[E]
	keyFunc func(K) string

	schema string // quoted, may be empty
	table  string // quoted, schema-qualified

	selectQuery string
	upsertQuery string
	deleteQuery string
}

var _ repohelper.RemoteSource[string, struct{}, WriteResult] = (*Remote[string, struct{}])(nil)

func New[K, E any](cfg Config[K, E]) (*Remote[K, E], error) {
	if cfg.DB == nil {
		return nil, errors.New("pgremote: db is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("pgremote: codec is required")
	}
	r := &Remote[K, E]{
		db:      cfg.DB,
		codec:   cfg.Codec,
		keyFunc: cfg.KeyFunc,
	}
	if r.keyFunc == nil {
		r.keyFunc = func(k K) string { return fmt.Sprint(k) }
	}

	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	r.table = pq.QuoteIdentifier(table)
	if cfg.Schema != "" {
		r.schema = pq.QuoteIdentifier(cfg.Schema)
		r.table = r.schema + "." + r.table
	}

	r.selectQuery = fmt.Sprintf("SELECT payload FROM %s WHERE key = $1", r.table)
	r.upsertQuery = fmt.Sprintf(`INSERT INTO %s (key, payload, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, r.table)
	r.deleteQuery = fmt.Sprintf("DELETE FROM %s WHERE key = $1", r.table)
	return r, nil
}

// EnsureSchema creates the schema and table if they do not exist.
func (r *Remote[K, E]) EnsureSchema(ctx context.Context) error {
	if r.schema != "" {
		if _, err := r.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+r.schema); err != nil {
			return fmt.Errorf("pgremote: create schema: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key text PRIMARY KEY,
	payload bytea NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`, r.table))
	if err != nil {
		return fmt.Errorf("pgremote: create table: %w", err)
	}
	return nil
}

func (r *Remote[K, E]) Fetch(ctx context.Context, key K) (E, bool, error) {
	var zero E
	var payload []byte
	err := r.db.GetContext(ctx, &payload, r.selectQuery, r.keyFunc(key))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("pgremote: select: %w", err)
	}
	v, err := r.codec.Decode(payload)
	if err != nil {
		return zero, false, fmt.Errorf("pgremote: decode: %w", err)
	}
	return v, true, nil
}

func (r *Remote[K, E]) Write(ctx context.Context, key K, entity E) (WriteResult, error) {
	payload, err := r.codec.Encode(entity)
	if err != nil {
		return WriteResult{}, fmt.Errorf("pgremote: encode: %w", err)
	}
	res, err := r.db.ExecContext(ctx, r.upsertQuery, r.keyFunc(key), payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("pgremote: upsert: %w", err)
	}
	return result(res)
}

func (r *Remote[K, E]) Remove(ctx context.Context, key K) (WriteResult, error) {
	res, err := r.db.ExecContext(ctx, r.deleteQuery, r.keyFunc(key))
	if err != nil {
		return WriteResult{}, fmt.Errorf("pgremote: delete: %w", err)
	}
	return result(res)
}

func result(res sql.Result) (WriteResult, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return WriteResult{}, fmt.Errorf("pgremote: rows affected: %w", err)
	}
	return WriteResult{RowsAffected: n}, nil
}
