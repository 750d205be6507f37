// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package storage

import (
	"strings"

	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

// Config is the full set of configured storage backends: the mandatory
// local copy plus the two S3-compatible providers.
type Config struct {
	LocalBaseDir string
	R2           S3CompatConfig
	B2           S3CompatConfig
}

// NewFromConfig builds the local backend plus each enabled S3-compatible
// backend in cfg and returns them keyed
// by their symbolic name ("local", "r2", "b2"), matching the factory
// described in §4.2.
func NewFromConfig(cfg Config) (map[string]Backend, error) {
	backends := make(map[string]Backend, 3)

	local, err := NewLocal(cfg.LocalBaseDir)
	if err != nil {
		return nil, err
	}
	backends["local"] = local

	if cfg.R2.Enabled {
		r2, err := NewS3Compat(cfg.R2)
		if err != nil {
			return nil, err
		}
		backends["r2"] = r2
	}

	if cfg.B2.Enabled {
		b2, err := NewS3Compat(cfg.B2)
		if err != nil {
			return nil, err
		}
		backends["b2"] = b2
	}

	return backends, nil
}

// Lookup resolves a case-insensitive symbolic backend name, failing with
// UnknownBackendError for anything unrecognized.
func Lookup(backends map[string]Backend, name string) (Backend, error) {
	b, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, &vaulterrors.UnknownBackendError{Name: name}
	}
	return b, nil
}
