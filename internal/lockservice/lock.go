// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package lockservice implements the TTL-named-lock contract (§4.5) on
// top of BadgerDB: a task-run lock per {task-name, task-id} and a
// per-tenant lock, both set-if-absent with a TTL so a crashed holder's
// lock eventually expires on its own.
package lockservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/vaultkeeper/engine/internal/logging"
	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

// Service is a named-lock store backed by an embedded BadgerDB instance.
type Service struct {
	db *badger.DB
}

// Open opens (or creates) the Badger database at dir. Pass dir="" to run
// fully in-memory, which the test suite uses.
func Open(dir string) (*Service, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is noisy at Info; we log at the call sites instead
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open lock store: %w", err)
	}
	return &Service{db: db}, nil
}

// Close releases the underlying Badger handle.
func (s *Service) Close() error { return s.db.Close() }

// TaskRunKey builds the task-run lock key: backup:{task-name}:lock:{task-id}.
func TaskRunKey(taskName, taskID string) string {
	return fmt.Sprintf("backup:%s:lock:%s", taskName, taskID)
}

// TenantKey builds the per-tenant lock key: backup:tenant:{tenant-id}:in_progress.
func TenantKey(tenantID string) string {
	return fmt.Sprintf("backup:tenant:%s:in_progress", tenantID)
}

var errAlreadyHeld = errors.New("lock already held")

// Acquire attempts a set-if-absent write of value under key with the
// given TTL. If the key is already held, it logs the current holder's
// value at Debug and returns a *vaulterrors.LockContentionError naming
// the key — callers per §4.5 treat this as "not an error": the task or
// per-tenant iteration returns/continues silently.
func (s *Service) Acquire(ctx context.Context, key, value string, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return errAlreadyHeld
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		entry := badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if errors.Is(err, errAlreadyHeld) {
		holder, _ := s.Get(ctx, key)
		logging.Ctx(ctx).Debug().Str("lock_key", key).Str("holder", holder).Msg("lock contention")
		return &vaulterrors.LockContentionError{Key: key}
	}
	return err
}

// Get returns the current value stored under key, or "" if absent.
func (s *Service) Get(_ context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	return value, err
}

// Release removes key. Release is best-effort per §4.5: callers log a
// failed release but never treat it as fatal, since the TTL guarantees
// eventual release regardless.
func (s *Service) Release(ctx context.Context, key string) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("lock_key", key).Msg("lock release failed; relying on TTL")
	}
}
