// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct-tag validation and the few cross-field checks the
// tags can't express (at least one offsite backend enabled).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if !c.Storage.R2.Enabled && !c.Storage.B2.Enabled {
		return fmt.Errorf("configuration validation failed: at least one offsite backend (storage.r2 or storage.b2) must be enabled")
	}
	return nil
}
