// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package codec

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// hkdfSalt and hkdfInfo bind derived subkeys to this engine so the same
// master key never produces the same subkey material as any other use.
const (
	hkdfSalt = "vaultkeeper-codec"
	hkdfInfo = "backup-archive-encryption-v1"
)

// Key is a raw AES-256 symmetric key, parsed once from config and passed
// explicitly into every Encrypt/Decrypt call — no package-level singleton.
type Key [keySize]byte

// ParseKey decodes BACKUP_ENCRYPTION_KEY: a URL-safe base64 encoding of 32
// raw bytes. The raw bytes are then passed through HKDF-SHA256 to derive
// the AES key actually used, the same construction the teacher repo uses
// to bind a raw secret to one specific use (internal/config/encryption.go).
func ParseKey(encoded string) (Key, error) {
	var key Key
	if encoded == "" {
		return key, fmt.Errorf("encryption key is empty")
	}
	raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(encoded)
	if err != nil {
		// Tolerate '=' padding too. Only the URL-safe alphabet is
		// accepted, so a key containing '+' or '/' is rejected.
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return key, fmt.Errorf("decode encryption key: %w", err)
		}
	}
	if len(raw) != keySize {
		return key, fmt.Errorf("encryption key must decode to %d bytes, got %d", keySize, len(raw))
	}

	derived := make([]byte, keySize)
	r := hkdf.New(sha256.New, raw, []byte(hkdfSalt), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, derived); err != nil {
		return key, fmt.Errorf("derive key: %w", err)
	}
	copy(key[:], derived)
	return key, nil
}
