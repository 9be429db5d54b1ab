// Package store provides the narrow key-value contract backing the
// revocation list and the audit index. Any low-latency store that can
// honor per-entry TTLs is interchangeable here.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/strukta/bastion/internal/logger"
)

// ErrKeyNotFound is returned when a key is absent or its TTL has elapsed.
var ErrKeyNotFound = errors.New("key not found")

// Store is the fast key-value contract.
type Store interface {
	Put(key string, value []byte) error
	PutTTL(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	// Scan returns all keys with the given prefix, in lexicographic order.
	Scan(prefix string) ([]string, error)
	Close() error
}

// Config holds store configuration.
type Config struct {
	Type       string // "memory" or "badger"
	DataDir    string
	SyncWrites bool
}

// Open creates a store based on configuration.
func Open(cfg Config, log logger.Logger) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		log.Info("using in-memory key-value store")
		return NewMemory(), nil
	case "badger":
		log.Info("using badger key-value store",
			logger.String("data_dir", cfg.DataDir),
			logger.Bool("sync_writes", cfg.SyncWrites))
		return NewBadger(cfg.DataDir, cfg.SyncWrites, log)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
