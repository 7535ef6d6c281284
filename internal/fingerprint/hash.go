package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ChunkSize is the read size used when streaming file contents into the hash.
const ChunkSize = 4096

// NotAvailable is the hash recorded when a file cannot be read.
const NotAvailable = "N/A"

// HashFile returns the hex SHA-256 digest of path. Symbolic links are never
// followed: the digest covers the link target string instead, so broken links
// hash deterministically and identical targets hash identically.
func HashFile(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return "", fmt.Errorf("read link: %w", err)
		}
		return HashString(target), nil
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("hash %s: not a regular file", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(hasher, onlyReader{file}, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashOrNA is HashFile with failures collapsed to NotAvailable.
func HashOrNA(path string) string {
	digest, err := HashFile(path)
	if err != nil {
		return NotAvailable
	}
	return digest
}

// HashString returns the hex SHA-256 digest of value.
func HashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// onlyReader hides *os.File's WriterTo so io.CopyBuffer honours the fixed
// chunk size.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }
