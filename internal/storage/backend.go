// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package storage provides a uniform backend interface over the three
// places an artifact is stored: the local filesystem and two
// S3-compatible object stores. Every implementation reports failures as a
// returned error rather than panicking — the orchestrator decides fallback
// policy. Local logs its uploads; the S3-compatible backend logs uploads,
// downloads and deletes.
package storage

import "context"

// Usage reports a backend's capacity, when it can be determined.
type Usage struct {
	TotalBytes     int64
	UsedBytes      int64
	AvailableBytes int64
}

// Backend is the uniform contract every storage implementation satisfies.
// Every operation reports failure through its error return; GetSize and
// GetStorageUsage additionally report "absent" via their ok return.
type Backend interface {
	// Name identifies this backend instance for logging and Catalog paths.
	Name() string

	// Upload copies localPath to remotePath, creating any parent
	// directories/prefixes on demand.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Download copies remotePath to localPath, creating local parent dirs.
	Download(ctx context.Context, remotePath, localPath string) error

	// Exists reports whether remotePath is present.
	Exists(ctx context.Context, remotePath string) (bool, error)

	// Delete removes remotePath. Deleting a path that is already absent
	// is success (idempotent), per §4.2.
	Delete(ctx context.Context, remotePath string) error

	// GetSize returns the size of remotePath, or ok=false if absent.
	GetSize(ctx context.Context, remotePath string) (size int64, ok bool, err error)

	// GetStorageUsage returns backend-wide capacity, or ok=false if the
	// backend cannot report it.
	GetStorageUsage(ctx context.Context) (usage Usage, ok bool, err error)
}
