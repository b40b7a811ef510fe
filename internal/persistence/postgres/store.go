// Package postgres stores user records as JSONB rows.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/observability"
)

//go:embed schema.sql
var schema string

// Store provides Postgres-backed persistence for user records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the user_records table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Get loads the record for username.
func (s *Store) Get(ctx context.Context, username string) (domain.UserRecord, bool, error) {
	const query = `SELECT record FROM user_records WHERE username=$1`

	start := time.Now()
	var raw []byte
	err := s.pool.QueryRow(ctx, query, username).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		observability.RecordStoreOperation("postgres", "get", start, nil)
		return domain.NewUserRecord(), false, nil
	}
	observability.RecordStoreOperation("postgres", "get", start, err)
	if err != nil {
		return domain.UserRecord{}, false, &domain.StorageError{Op: "read", Username: username, Err: err}
	}

	var record domain.UserRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return domain.UserRecord{}, false, &domain.StorageError{Op: "decode", Username: username, Err: err}
	}
	record.Normalize()
	return record, true, nil
}

// Put upserts the record for username in a single statement.
func (s *Store) Put(ctx context.Context, username string, record domain.UserRecord) error {
	if err := domain.ValidateUsername(username); err != nil {
		return err
	}
	record = record.Clone()
	record.Normalize()
	raw, err := json.Marshal(record)
	if err != nil {
		return &domain.StorageError{Op: "encode", Username: username, Err: err}
	}

	const upsert = `INSERT INTO user_records (username, record, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (username) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`

	start := time.Now()
	_, err = s.pool.Exec(ctx, upsert, username, raw)
	observability.RecordStoreOperation("postgres", "put", start, err)
	if err != nil {
		return &domain.StorageError{Op: "write", Username: username, Err: err}
	}
	return nil
}

// Usernames lists every stored username.
func (s *Store) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM user_records ORDER BY username`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	return names, nil
}

// Lock holds a session-level advisory lock keyed by username on a dedicated connection
// until the returned func is called.
func (s *Store) Lock(ctx context.Context, username string) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, &domain.StorageError{Op: "lock", Username: username, Err: err}
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(hashtext($1))", username); err != nil {
		conn.Release()
		return nil, &domain.StorageError{Op: "lock", Username: username, Err: err}
	}
	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock(hashtext($1))", username); err != nil {
			// The session still holds the lock; drop the connection instead of returning it to the pool.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}
