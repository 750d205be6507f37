// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/vaultkeeper/engine/internal/logging"
)

// Local is a storage Backend rooted at a configured base directory. It is
// the mandatory copy — every backup pipeline requires at least this
// backend's upload to succeed (§4.6.1's "minimum redundancy" rule).
type Local struct {
	baseDir string
}

// NewLocal creates the base directory if needed and returns a Local backend.
func NewLocal(baseDir string) (*Local, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, err
	}
	return &Local{baseDir: baseDir}, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) fullPath(remotePath string) string {
	return filepath.Join(l.baseDir, filepath.Clean("/"+remotePath))
}

func (l *Local) Upload(_ context.Context, localPath, remotePath string) error {
	dst := l.fullPath(remotePath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		logging.WithComponent("storage.local").Warn().Err(err).Str("remote_path", remotePath).Msg("upload failed")
		return err
	}
	if err := copyFile(localPath, dst); err != nil {
		logging.WithComponent("storage.local").Warn().Err(err).Str("remote_path", remotePath).Msg("upload failed")
		return err
	}
	logging.WithComponent("storage.local").Info().Str("remote_path", remotePath).Msg("upload succeeded")
	return nil
}

func (l *Local) Download(_ context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	return copyFile(l.fullPath(remotePath), localPath)
}

func (l *Local) Exists(_ context.Context, remotePath string) (bool, error) {
	_, err := os.Stat(l.fullPath(remotePath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Delete(_ context.Context, remotePath string) error {
	err := os.Remove(l.fullPath(remotePath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil // idempotent: missing path is success
}

func (l *Local) GetSize(_ context.Context, remotePath string) (int64, bool, error) {
	st, err := os.Stat(l.fullPath(remotePath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return st.Size(), true, nil
}

// GetStorageUsage reports capacity via statfs on the base directory.
func (l *Local) GetStorageUsage(_ context.Context) (Usage, bool, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(l.baseDir, &stat); err != nil {
		return Usage{}, false, err
	}
	total := int64(stat.Blocks) * int64(stat.Bsize) //nolint:gosec // platform-native conversion
	avail := int64(stat.Bavail) * int64(stat.Bsize)  //nolint:gosec // platform-native conversion
	return Usage{
		TotalBytes:     total,
		AvailableBytes: avail,
		UsedBytes:      total - avail,
	}, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
