// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

// Package codec implements the streaming gzip(9) -> AES-256-GCM ->
// SHA-256 pipeline every backup artifact passes through. All operations
// work in fixed-size chunks so a multi-gigabyte database dump never
// requires holding more than one chunk in memory.
package codec

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // offered only for interop (§4.1), not for authentication
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/vaultkeeper/engine/internal/vaulterrors"
)

// ChunkSize bounds how much plaintext/ciphertext is held in memory at
// once, for compress, decompress, encrypt and decrypt alike.
const ChunkSize = 1 << 20 // 1 MiB

const streamMagic = "VK1\n"

const nonceFilePrefixSize = 4 // random per-file prefix
const nonceCounterSize = 8    // per-chunk counter, big-endian
const gcmNonceSize = nonceFilePrefixSize + nonceCounterSize

// HashAlgo selects the digest algorithm for Hash; VerifyChecksum always
// uses SHA-256. SHA512 and MD5 are offered for interoperability.
type HashAlgo string

const (
	SHA256 HashAlgo = "sha256"
	SHA512 HashAlgo = "sha512"
	MD5    HashAlgo = "md5" //nolint:gosec // interop only, see HashAlgo doc
)

func newHash(algo HashAlgo) (hash.Hash, error) {
	switch algo {
	case "", SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case MD5:
		return md5.New(), nil //nolint:gosec // interop only
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algo)
	}
}

// Compress gzip(level 9)-compresses inPath to outPath (defaulting to
// inPath+".gz"). Returns the output path and the original/compressed
// sizes so callers can report a compression ratio.
func Compress(inPath, outPath string) (path string, origSize, compressedSize int64, err error) {
	if outPath == "" {
		outPath = inPath + ".gz"
	}
	in, err := os.Open(inPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, 0, &vaulterrors.NotFoundError{Path: inPath, Err: err}
		}
		return "", 0, 0, &vaulterrors.CompressionError{Op: "open", Err: err}
	}
	defer in.Close()

	out, err := os.Create(outPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return "", 0, 0, &vaulterrors.CompressionError{Op: "create", Err: err}
	}
	defer out.Close()

	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return "", 0, 0, &vaulterrors.CompressionError{Op: "init", Err: err}
	}

	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(gw, in, buf)
	if err != nil {
		return "", 0, 0, &vaulterrors.CompressionError{Op: "write", Err: err}
	}
	if err := gw.Close(); err != nil {
		return "", 0, 0, &vaulterrors.CompressionError{Op: "flush", Err: err}
	}

	st, err := out.Stat()
	if err != nil {
		return "", 0, 0, &vaulterrors.CompressionError{Op: "stat", Err: err}
	}
	return outPath, n, st.Size(), nil
}

// Decompress is the inverse of Compress; outPath defaults to inPath with
// its ".gz" suffix stripped.
func Decompress(inPath, outPath string) (path string, err error) {
	if outPath == "" {
		outPath = strings.TrimSuffix(inPath, ".gz")
	}
	in, err := os.Open(inPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		if os.IsNotExist(err) {
			return "", &vaulterrors.NotFoundError{Path: inPath, Err: err}
		}
		return "", &vaulterrors.CompressionError{Op: "open", Err: err}
	}
	defer in.Close()

	gr, err := gzip.NewReader(in)
	if err != nil {
		return "", &vaulterrors.CompressionError{Op: "init", Err: err}
	}
	defer gr.Close()

	out, err := os.Create(outPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return "", &vaulterrors.CompressionError{Op: "create", Err: err}
	}
	defer out.Close()

	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(out, gr, buf); err != nil {
		return "", &vaulterrors.CompressionError{Op: "read", Err: err}
	}
	return outPath, nil
}

// Encrypt authenticated-encrypts inPath to outPath (defaulting to
// inPath+".enc") under key. The plaintext is split into ChunkSize blocks,
// each sealed independently with AES-256-GCM under a nonce built from a
// random per-file prefix and a monotonically increasing per-chunk
// counter, so no nonce is ever reused and the whole file never needs to
// be held in memory at once.
func Encrypt(key Key, inPath, outPath string) (path string, err error) {
	if outPath == "" {
		outPath = inPath + ".enc"
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", &vaulterrors.EncryptionError{Op: "init", Err: err}
	}

	in, err := os.Open(inPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		if os.IsNotExist(err) {
			return "", &vaulterrors.NotFoundError{Path: inPath, Err: err}
		}
		return "", &vaulterrors.EncryptionError{Op: "open", Err: err}
	}
	defer in.Close()

	out, err := os.Create(outPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return "", &vaulterrors.EncryptionError{Op: "create", Err: err}
	}
	defer out.Close()
	bw := bufio.NewWriterSize(out, ChunkSize)

	if _, err := bw.WriteString(streamMagic); err != nil {
		return "", &vaulterrors.EncryptionError{Op: "write-header", Err: err}
	}
	filePrefix := make([]byte, nonceFilePrefixSize)
	if _, err := io.ReadFull(rand.Reader, filePrefix); err != nil {
		return "", &vaulterrors.EncryptionError{Op: "nonce", Err: err}
	}
	if _, err := bw.Write(filePrefix); err != nil {
		return "", &vaulterrors.EncryptionError{Op: "write-header", Err: err}
	}

	plain := make([]byte, ChunkSize)
	var counter uint64
	for {
		n, readErr := io.ReadFull(in, plain)
		if n > 0 {
			nonce := chunkNonce(filePrefix, counter)
			counter++
			sealed := gcm.Seal(nil, nonce, plain[:n], nil)
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
			if _, err := bw.Write(lenBuf[:]); err != nil {
				return "", &vaulterrors.EncryptionError{Op: "write", Err: err}
			}
			if _, err := bw.Write(sealed); err != nil {
				return "", &vaulterrors.EncryptionError{Op: "write", Err: err}
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return "", &vaulterrors.EncryptionError{Op: "read", Err: readErr}
		}
	}
	if err := bw.Flush(); err != nil {
		return "", &vaulterrors.EncryptionError{Op: "flush", Err: err}
	}
	return outPath, nil
}

// Decrypt is the inverse of Encrypt. A tampered ciphertext or wrong key
// fails the GCM authentication check and returns an EncryptionError whose
// message contains "Invalid encryption key or corrupted file", as §4.1
// requires.
func Decrypt(key Key, inPath, outPath string) (path string, err error) {
	if outPath == "" {
		outPath = strings.TrimSuffix(inPath, ".enc")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", &vaulterrors.EncryptionError{Op: "init", Err: err}
	}

	in, err := os.Open(inPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		if os.IsNotExist(err) {
			return "", &vaulterrors.NotFoundError{Path: inPath, Err: err}
		}
		return "", &vaulterrors.EncryptionError{Op: "open", Err: err}
	}
	defer in.Close()
	br := bufio.NewReaderSize(in, ChunkSize)

	magic := make([]byte, len(streamMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != streamMagic {
		return "", &vaulterrors.EncryptionError{Op: "header", Err: fmt.Errorf("Invalid encryption key or corrupted file")}
	}
	filePrefix := make([]byte, nonceFilePrefixSize)
	if _, err := io.ReadFull(br, filePrefix); err != nil {
		return "", &vaulterrors.EncryptionError{Op: "header", Err: fmt.Errorf("Invalid encryption key or corrupted file")}
	}

	out, err := os.Create(outPath) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		return "", &vaulterrors.EncryptionError{Op: "create", Err: err}
	}
	defer out.Close()
	bw := bufio.NewWriterSize(out, ChunkSize)

	var lenBuf [4]byte
	var counter uint64
	for {
		_, err := io.ReadFull(br, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &vaulterrors.EncryptionError{Op: "read", Err: fmt.Errorf("Invalid encryption key or corrupted file")}
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		sealed := make([]byte, size)
		if _, err := io.ReadFull(br, sealed); err != nil {
			return "", &vaulterrors.EncryptionError{Op: "read", Err: fmt.Errorf("Invalid encryption key or corrupted file")}
		}
		nonce := chunkNonce(filePrefix, counter)
		counter++
		plain, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return "", &vaulterrors.EncryptionError{Op: "open", Err: fmt.Errorf("Invalid encryption key or corrupted file")}
		}
		if _, err := bw.Write(plain); err != nil {
			return "", &vaulterrors.EncryptionError{Op: "write", Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		return "", &vaulterrors.EncryptionError{Op: "flush", Err: err}
	}
	return outPath, nil
}

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, gcmNonceSize)
}

func chunkNonce(filePrefix []byte, counter uint64) []byte {
	nonce := make([]byte, gcmNonceSize)
	copy(nonce, filePrefix)
	binary.BigEndian.PutUint64(nonce[nonceFilePrefixSize:], counter)
	return nonce
}

// Hash returns the lower-case hex digest of path under algo (default
// sha256), streamed in ChunkSize reads.
func Hash(path string, algo HashAlgo) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path) //nolint:gosec // caller-controlled backup paths
	if err != nil {
		if os.IsNotExist(err) {
			return "", &vaulterrors.NotFoundError{Path: path, Err: err}
		}
		return "", err
	}
	defer f.Close()

	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256 is Hash(path, SHA256), the default used throughout the catalog.
func SHA256(path string) (string, error) { return Hash(path, SHA256) }

// VerifyChecksum reports whether sha256(path) equals expected,
// case-insensitively.
func VerifyChecksum(path, expected string) (bool, error) {
	got, err := SHA256(path)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(strings.ToLower(expected))) == 1, nil
}

// CompressAndEncryptResult is the return value of CompressAndEncrypt.
type CompressAndEncryptResult struct {
	OutPath        string
	Checksum       string
	OriginalSize   int64
	CompressedSize int64
	FinalSize      int64
}

// CompressAndEncrypt runs compress -> encrypt -> sha256 over inPath,
// producing outPath (defaulting to inPath+".gz.enc"). The intermediate
// .gz file is removed unless keepIntermediate is set.
func CompressAndEncrypt(key Key, inPath, outPath string, keepIntermediate bool) (CompressAndEncryptResult, error) {
	if outPath == "" {
		outPath = inPath + ".gz.enc"
	}
	gzPath, origSize, compressedSize, err := Compress(inPath, inPath+".gz")
	if err != nil {
		return CompressAndEncryptResult{}, err
	}
	if !keepIntermediate {
		defer os.Remove(gzPath)
	}

	if _, err := Encrypt(key, gzPath, outPath); err != nil {
		return CompressAndEncryptResult{}, err
	}

	checksum, err := SHA256(outPath)
	if err != nil {
		return CompressAndEncryptResult{}, err
	}
	st, err := os.Stat(outPath)
	if err != nil {
		return CompressAndEncryptResult{}, err
	}

	return CompressAndEncryptResult{
		OutPath:        outPath,
		Checksum:       checksum,
		OriginalSize:   origSize,
		CompressedSize: compressedSize,
		FinalSize:      st.Size(),
	}, nil
}

// DecryptAndDecompress is the inverse of CompressAndEncrypt.
func DecryptAndDecompress(key Key, inPath, outPath string, keepIntermediate bool) (string, error) {
	gzPath, err := Decrypt(key, inPath, inPath+".dec.gz")
	if err != nil {
		return "", err
	}
	if !keepIntermediate {
		defer os.Remove(gzPath)
	}
	return Decompress(gzPath, outPath)
}

// Backend is the minimal remote-storage surface VerifyBackupIntegrity
// needs. internal/storage.Backend satisfies it.
type Backend interface {
	Exists(ctx context.Context, remotePath string) (bool, error)
	GetSize(ctx context.Context, remotePath string) (size int64, ok bool, err error)
	Download(ctx context.Context, remotePath, localPath string) error
}

// LocationReport describes one backend's copy of a backup artifact.
type LocationReport struct {
	Exists        bool
	ChecksumValid bool
	Size          int64
}

// IntegrityReport is the result of VerifyBackupIntegrity.
type IntegrityReport struct {
	Valid     bool
	Locations map[string]LocationReport
	Errors    []string
}

// VerifyBackupIntegrity confirms, for each named backend holding
// remotePath, that the object exists, its size matches expectedSize, and
// a fresh download re-hashes to expectedChecksum. Every temp download is
// removed on every exit path.
func VerifyBackupIntegrity(ctx context.Context, expectedChecksum string, expectedSize int64, remotePath string, backends map[string]Backend) IntegrityReport {
	report := IntegrityReport{Valid: true, Locations: make(map[string]LocationReport, len(backends))}

	for name, backend := range backends {
		loc := LocationReport{}

		exists, err := backend.Exists(ctx, remotePath)
		if err != nil || !exists {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("%s: object missing or unreachable", name))
			report.Locations[name] = loc
			continue
		}
		loc.Exists = true

		if size, ok, err := backend.GetSize(ctx, remotePath); err == nil && ok {
			loc.Size = size
			if expectedSize > 0 && size != expectedSize {
				report.Valid = false
				report.Errors = append(report.Errors, fmt.Sprintf("%s: size mismatch (got %d want %d)", name, size, expectedSize))
			}
		}

		tmp, err := os.CreateTemp("", "vaultkeeper-verify-*")
		if err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			report.Locations[name] = loc
			continue
		}
		tmpPath := tmp.Name()
		tmp.Close()

		func() {
			defer os.Remove(tmpPath)
			if err := backend.Download(ctx, remotePath, tmpPath); err != nil {
				report.Valid = false
				report.Errors = append(report.Errors, fmt.Sprintf("%s: download failed: %v", name, err))
				return
			}
			ok, err := VerifyChecksum(tmpPath, expectedChecksum)
			if err != nil {
				report.Valid = false
				report.Errors = append(report.Errors, fmt.Sprintf("%s: checksum error: %v", name, err))
				return
			}
			loc.ChecksumValid = ok
			if !ok {
				report.Valid = false
				report.Errors = append(report.Errors, fmt.Sprintf("%s: checksum mismatch", name))
			}
		}()

		report.Locations[name] = loc
	}

	return report
}
