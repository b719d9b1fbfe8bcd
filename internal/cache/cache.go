// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package cache is a thin TTL cache over BadgerDB, used by the sampler
// to serve repeated identical requests within one cursor window without
// touching PostgreSQL.
package cache

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/periscope-analytics/periscope/internal/logging"
)

// Cache is a key-value store with per-entry TTL.
type Cache struct {
	db *badger.DB
}

// New opens a cache at the given path. An empty path opens an in-memory
// store, used by tests and by deployments that treat the cache as
// strictly ephemeral.
func New(path string) (*Cache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %q: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached value and whether it was present and live.
func (c *Cache) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}
	return value, true, nil
}

// Set stores a value that expires after ttl.
func (c *Cache) Set(key, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, value).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// badgerLogger routes Badger's internal logging into zerolog. Badger's
// INFO output is operational noise at our level, so it lands at debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "cache").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "cache").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "cache").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "cache").Msgf(format, args...)
}
