// Package chash implements ContentHash: the 256-bit BLAKE2b digest used to
// address blobs throughout stagecore.
package chash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a ContentHash.
const Size = 32

// hexLen is the length of the canonical lowercase hex encoding.
const hexLen = Size * 2

// chunkSize is the read buffer used by HashFile; streamed, never buffered
// whole.
const chunkSize = 32 * 1024

// ContentHash is a 256-bit BLAKE2b digest, keyed with a zero key.
type ContentHash [Size]byte

// Zero is the all-zero hash, used as the unset sentinel for legacy
// (workspace-fallback) visible inputs.
var Zero ContentHash

var (
	// ErrInvalidHexLength is returned by FromHex when the input is not
	// exactly 64 characters.
	ErrInvalidHexLength = errors.New("chash: hex string must be 64 characters")
	// ErrInvalidHexChar is returned by FromHex when the input contains a
	// character outside [0-9a-fA-F].
	ErrInvalidHexChar = errors.New("chash: hex string contains invalid character")
)

// HashBytes computes the BLAKE2b-256 digest of b.
func HashBytes(b []byte) ContentHash {
	sum := blake2b.Sum256(b)
	return ContentHash(sum)
}

// HashFile streams f in fixed-size chunks through a BLAKE2b-256 hasher. It
// never buffers the whole file in memory, and makes no claim about
// atomicity with respect to concurrent writers: callers are expected to
// hash quiescent files (staging files, which have exactly one writer).
func HashFile(path string) (ContentHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return ContentHash{}, fmt.Errorf("chash: hash file %q: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return ContentHash{}, fmt.Errorf("chash: new hasher: %w", err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return ContentHash{}, fmt.Errorf("chash: hash file %q: %w", path, err)
	}

	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// String returns the canonical lowercase hex form.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// ToHex is an alias of String for call sites that prefer an explicit name.
func (h ContentHash) ToHex() string {
	return h.String()
}

// FromHex parses a 64-character lowercase (or mixed-case) hex string into a
// ContentHash.
func FromHex(s string) (ContentHash, error) {
	if len(s) != hexLen {
		return ContentHash{}, fmt.Errorf("chash: from hex %q: %w", s, ErrInvalidHexLength)
	}
	var out ContentHash
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return ContentHash{}, fmt.Errorf("chash: from hex %q: %w", s, ErrInvalidHexChar)
	}
	return out, nil
}

// IsZero reports whether h is the unset sentinel.
func (h ContentHash) IsZero() bool {
	return h == Zero
}

// Shard splits the canonical hex form into a 2-character shard prefix and
// the remaining 62-character suffix.
func (h ContentHash) Shard() (prefix, suffix string) {
	full := h.String()
	return full[:2], full[2:]
}

// Compare returns -1, 0, or 1 depending on the byte-lexicographic ordering
// of a and b.
func Compare(a, b ContentHash) int {
	return bytes.Compare(a[:], b[:])
}

// Less reports whether a sorts before b.
func Less(a, b ContentHash) bool {
	return Compare(a, b) < 0
}
