package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Database.Host = "db.internal"
	cfg.Database.Name = "app"
	cfg.Database.User = "app"
	cfg.Database.Password = "secret"
	cfg.Encryption.Key = "0123456789abcdef0123456789abcdef"
	cfg.Storage.R2.Enabled = true
	cfg.Storage.R2.Endpoint = "https://accountid.r2.cloudflarestorage.com"
	cfg.Storage.R2.Bucket = "backups"
	cfg.Storage.R2.AccessKeyID = "AKID"
	cfg.Storage.R2.SecretAccessKey = "SECRET"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingEncryptionKey(t *testing.T) {
	cfg := validConfig()
	cfg.Encryption.Key = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresAtLeastOneOffsiteBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.R2.Enabled = false
	cfg.Storage.B2.Enabled = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one offsite backend")
}

func TestValidateRequiresR2CredentialsWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.R2.AccessKeyID = ""
	assert.Error(t, cfg.Validate())
}

func TestEnvTransformSplitsOnDoubleUnderscore(t *testing.T) {
	assert.Equal(t, "database.host", envTransform("VAULTKEEPER_DATABASE__HOST"))
	assert.Equal(t, "schedule.full_backup_cron", envTransform("VAULTKEEPER_SCHEDULE__FULL_BACKUP_CRON"))
}
