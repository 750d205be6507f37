// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package vaulterrors defines the engine's error taxonomy. Each kind is a
// distinct type so callers can discriminate with errors.As, and each wraps
// an underlying cause so errors.Is/Unwrap chains still work.
package vaulterrors

import "fmt"

// NotFoundError reports a missing input file or remote object.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s: %v", e.Path, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// CompressionError reports a gzip codec failure.
type CompressionError struct {
	Op  string
	Err error
}

func (e *CompressionError) Error() string { return fmt.Sprintf("compression %s: %v", e.Op, e.Err) }
func (e *CompressionError) Unwrap() error { return e.Err }

// EncryptionError reports an AEAD failure: bad key, bad ciphertext, or a
// failed authentication tag check on decrypt.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string { return fmt.Sprintf("encryption %s: %v", e.Op, e.Err) }
func (e *EncryptionError) Unwrap() error { return e.Err }

// DumpError reports a logical-dump subprocess failure (non-zero exit or
// timeout).
type DumpError struct {
	Kind string // "full" or "tenant"
	Err  error
}

func (e *DumpError) Error() string { return fmt.Sprintf("dump (%s): %v", e.Kind, e.Err) }
func (e *DumpError) Unwrap() error { return e.Err }

// RestoreError reports a restore subprocess failure.
type RestoreError struct {
	Err error
}

func (e *RestoreError) Error() string { return fmt.Sprintf("restore: %v", e.Err) }
func (e *RestoreError) Unwrap() error { return e.Err }

// StorageError reports a storage-backend operation returning false/err.
// Whether it is fatal depends on whether Backend is the mandatory one
// (local); the orchestrator, not this type, makes that call.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s.%s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IntegrityError reports a post-upload checksum or size mismatch. It never
// fails a task outright; it keeps a record at COMPLETED rather than
// VERIFIED and triggers a WARNING alert.
type IntegrityError struct {
	Detail string
}

func (e *IntegrityError) Error() string { return "integrity check failed: " + e.Detail }

// LockContentionError is not a failure: it signals that a task-run or
// per-tenant lock was already held. Callers check with errors.Is against
// ErrLockHeld and treat it as a normal early return.
type LockContentionError struct {
	Key string
}

func (e *LockContentionError) Error() string { return "lock held: " + e.Key }

// ErrLockHeld is the sentinel LockContentionError values compare against
// with errors.Is after wrapping (errors.As is preferred when the Key
// field is needed).
var ErrLockHeld = &LockContentionError{}

func (e *LockContentionError) Is(target error) bool {
	_, ok := target.(*LockContentionError)
	return ok
}

// ConfigError reports a missing required config key or an unknown
// symbolic name. Fatal at startup.
type ConfigError struct {
	Key    string
	Detail string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %s", e.Key, e.Detail) }

// UnknownBackendError reports a storage-backend factory lookup miss.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string { return "unknown storage backend: " + e.Name }
