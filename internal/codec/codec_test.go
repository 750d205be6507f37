package codec

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) Key {
	t.Helper()
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key, err := ParseKey(base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	return key
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestCompressAndEncryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("INSERT INTO t VALUES(1);\n"), 50000)
	src := writeFile(t, dir, "dump.sql", content)

	key := randomKey(t)
	result, err := CompressAndEncrypt(key, src, "", false)
	require.NoError(t, err)

	checksum, err := SHA256(result.OutPath)
	require.NoError(t, err)
	assert.Equal(t, checksum, result.Checksum)

	ok, err := VerifyChecksum(result.OutPath, result.Checksum)
	require.NoError(t, err)
	assert.True(t, ok)

	restored, err := DecryptAndDecompress(key, result.OutPath, filepath.Join(dir, "restored.sql"), false)
	require.NoError(t, err)

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// intermediate .gz should be gone
	_, err = os.Stat(src + ".gz")
	assert.True(t, os.IsNotExist(err))
}

func TestDecryptWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "dump.sql", []byte("select 1;"))

	k1 := randomKey(t)
	k2 := randomKey(t)

	encPath, err := Encrypt(k1, src, "")
	require.NoError(t, err)

	_, err = Decrypt(k2, encPath, "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Invalid encryption key"))
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "dump.sql", []byte("select 1;"))
	key := randomKey(t)

	encPath, err := Encrypt(key, src, "")
	require.NoError(t, err)

	data, err := os.ReadFile(encPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(encPath, data, 0o600))

	_, err = Decrypt(key, encPath, "")
	require.Error(t, err)
}

func TestVerifyChecksumDetectsSingleByteChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f.txt", []byte("hello world"))

	sum, err := SHA256(path)
	require.NoError(t, err)

	ok, err := VerifyChecksum(path, sum)
	require.NoError(t, err)
	assert.True(t, ok)

	data, _ := os.ReadFile(path)
	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(path, data, 0o600))

	ok, err = VerifyChecksum(path, sum)
	require.NoError(t, err)
	assert.False(t, ok)
}

type fakeBackend struct {
	data map[string][]byte
}

func (f *fakeBackend) Exists(_ context.Context, remotePath string) (bool, error) {
	_, ok := f.data[remotePath]
	return ok, nil
}

func (f *fakeBackend) GetSize(_ context.Context, remotePath string) (int64, bool, error) {
	d, ok := f.data[remotePath]
	if !ok {
		return 0, false, nil
	}
	return int64(len(d)), true, nil
}

func (f *fakeBackend) Download(_ context.Context, remotePath, localPath string) error {
	d, ok := f.data[remotePath]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(localPath, d, 0o600)
}

func TestVerifyBackupIntegrityAllValid(t *testing.T) {
	content := []byte("encrypted-archive-bytes")
	sum, err := hashBytes(content)
	require.NoError(t, err)

	backends := map[string]Backend{
		"local": &fakeBackend{data: map[string][]byte{"k": content}},
		"r2":    &fakeBackend{data: map[string][]byte{"k": content}},
	}

	report := VerifyBackupIntegrity(context.Background(), sum, int64(len(content)), "k", backends)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
	assert.Len(t, report.Locations, 2)
}

func TestVerifyBackupIntegrityMissingBackend(t *testing.T) {
	content := []byte("encrypted-archive-bytes")
	sum, err := hashBytes(content)
	require.NoError(t, err)

	backends := map[string]Backend{
		"local": &fakeBackend{data: map[string][]byte{"k": content}},
		"b2":    &fakeBackend{data: map[string][]byte{}},
	}

	report := VerifyBackupIntegrity(context.Background(), sum, int64(len(content)), "k", backends)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func hashBytes(b []byte) (string, error) {
	dir, err := os.MkdirTemp("", "codec-test-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", err
	}
	return SHA256(path)
}
