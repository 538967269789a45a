// Package pgstore persists saga snapshots in Postgres through database/sql.
//
// The driver is registered by the caller, for example with
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// and sql.Open("pgx", dsn).
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fortressi/saga"
)

// Store keeps one row per instance with the whole snapshot as JSONB.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewWithSchema initializes the schema then returns the store.
func NewWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := New(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the snapshot table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_instances (
			id TEXT PRIMARY KEY,
			saga TEXT NOT NULL,
			status TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS saga_instances_status_idx
			ON saga_instances (status, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init saga schema: %w", err)
		}
	}
	return nil
}

// Save upserts the snapshot row.
func (s *Store) Save(ctx context.Context, inst *saga.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal saga %s: %w", inst.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saga_instances (id, saga, status, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET saga = EXCLUDED.saga,
			status = EXCLUDED.status,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at`,
		inst.ID, inst.Saga, string(inst.Status), string(data), inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save saga %s: %w", inst.ID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (*saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT snapshot FROM saga_instances WHERE id = $1`, id)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("saga %s: %w", id, saga.ErrNotFound)
		}
		return nil, fmt.Errorf("load saga %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saga_instances WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete saga %s: %w", id, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, statuses ...saga.Status) ([]*saga.Instance, error) {
	query, args := listQuery(statuses)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var out []*saga.Instance
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("list sagas: %w", err)
		}
		inst, err := decode(id, data)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	return out, nil
}

func listQuery(statuses []saga.Status) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, snapshot FROM saga_instances`)
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = string(st)
		}
		fmt.Fprintf(&sb, ` WHERE status IN (%s)`, strings.Join(placeholders, ", "))
	}
	sb.WriteString(` ORDER BY created_at, id`)
	return sb.String(), args
}

func decode(id string, data []byte) (*saga.Instance, error) {
	var inst saga.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal saga %s: %w", id, err)
	}
	return &inst, nil
}
