// Package core holds the wire-level data model shared by every other
// package: content hashes, objects, trees and commits.
package core

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
)

// Hash is a content address: the SHA-1 digest of an object's serialized
// header+payload. The zero value means "no object" (e.g. a commit with
// no parent).
type Hash [20]byte

// String returns the hexadecimal representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 7 characters of the hash, git-style.
func (h Hash) Short() string {
	return h.String()[:7]
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashBytes computes the SHA-1 hash of a byte slice.
func HashBytes(data []byte) Hash {
	return Hash(sha1.Sum(data))
}

// HashReader computes the SHA-1 hash of data from an io.Reader, streaming
// through an 8 KiB buffer instead of loading the whole input into memory.
func HashReader(r io.Reader) (Hash, error) {
	h := sha1.New()
	buf := make([]byte, 8*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Hash{}, err
	}
	var hash Hash
	copy(hash[:], h.Sum(nil))
	return hash, nil
}

// Hasher is an incremental SHA-1 accumulator for callers that produce
// content in chunks rather than all at once.
type Hasher struct {
	h interface {
		io.Writer
		Sum(b []byte) []byte
		Reset()
	}
}

// NewHasher returns a Hasher with the standard SHA-1 initial state.
func NewHasher() *Hasher {
	return &Hasher{h: sha1.New()}
}

// Update feeds more bytes into the running hash.
func (hs *Hasher) Update(p []byte) {
	hs.h.Write(p)
}

// Finalize returns the Hash accumulated so far and resets the internal
// state so the Hasher can be reused for the next object.
func (hs *Hasher) Finalize() Hash {
	var hash Hash
	copy(hash[:], hs.h.Sum(nil))
	hs.h.Reset()
	return hash
}

// ParseHash parses a 40-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var hash Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return hash, ErrInvalidHash
	}
	if len(b) != 20 {
		return hash, ErrInvalidHash
	}
	copy(hash[:], b)
	return hash, nil
}
