package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/prizepool-labs/ledger-service/pkg/logger"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS ledger_records (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists records in a single Postgres table keyed by
// record key.
type PostgresStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresStore connects to Postgres and ensures the records table
// exists.
func NewPostgresStore(dsn string, log *logger.Logger) (*PostgresStore, error) {
	if log == nil {
		log = logger.NewDefault("pgstore")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure records table: %w", err)
	}

	return &PostgresStore{db: db, log: log}, nil
}

// newPostgresStoreFromDB wraps an existing connection. Test hook.
func newPostgresStoreFromDB(db *sqlx.DB, log *logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.NewDefault("pgstore")
	}
	return &PostgresStore{db: db, log: log}
}

// Save upserts the record at key.
func (s *PostgresStore) Save(ctx context.Context, key string, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_records (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3`,
		key, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Load reads the record at key. Missing rows and corrupt values both
// report absent; corruption is logged.
func (s *PostgresStore) Load(ctx context.Context, key string, into interface{}) (bool, error) {
	var raw []byte
	err := s.db.QueryRowxContext(ctx,
		`SELECT value FROM ledger_records WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select record: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		s.log.WithField("key", key).WithError(err).Warn("corrupt persisted record, treating as absent")
		return false, nil
	}
	return true, nil
}

// Remove deletes the record at key; deleting an absent key is a no-op.
func (s *PostgresStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM ledger_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
