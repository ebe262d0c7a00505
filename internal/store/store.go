// Package store provides durable key/value record storage for the
// session ledger. Records are serialized JSON documents addressed by
// fixed keys; a record that fails to deserialize is treated as absent,
// never as a fatal error.
package store

import (
	"context"
	"fmt"

	"github.com/prizepool-labs/ledger-service/pkg/logger"
)

// RecordStore is the persistence contract for ledger records.
//
// Save overwrites any prior value at key. Load reports found=false when
// the key is missing or its content is corrupt. Remove is idempotent.
type RecordStore interface {
	Save(ctx context.Context, key string, record interface{}) error
	Load(ctx context.Context, key string, into interface{}) (found bool, err error)
	Remove(ctx context.Context, key string) error
	Close() error
}

// Record keys. One session record and one pending-transaction list per
// wallet address.
const (
	sessionKeyPrefix = "session:"
	pendingKeyPrefix = "pending:"
)

// SessionKey returns the session record key for a wallet address.
func SessionKey(address string) string {
	return sessionKeyPrefix + address
}

// PendingKey returns the pending-transaction list key for a wallet address.
func PendingKey(address string) string {
	return pendingKeyPrefix + address
}

// New constructs a RecordStore for the named backend.
func New(backend string, opts Options) (RecordStore, error) {
	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		s, err := NewFileStore(opts.DataDir, opts.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(opts.RedisAddr, opts.RedisDB, opts.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(opts.PostgresDSN, opts.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// Options carries backend-specific construction parameters.
type Options struct {
	DataDir     string
	RedisAddr   string
	RedisDB     int
	PostgresDSN string
	Logger      *logger.Logger
}
