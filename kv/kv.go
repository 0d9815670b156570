// Package kv provides the durable key-value stores tasktimer persists its
// task list into. Every backend offers the same get/set-by-key contract.
package kv

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/tasktimer/config"
)

// Store is a durable key-value store.
type Store interface {
	// Get returns the value stored under key. ok is false when no value
	// has ever been written for key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Close releases resources held by the store.
	Close() error
}

// Open builds the backend selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.DriverPostgres:
		return NewPostgresStore(cfg.DSN)
	case config.DriverFile:
		return NewFileStore(cfg.Path)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
