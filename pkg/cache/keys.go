package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxNaturalKeyLen is the longest argument string embedded verbatim in
// a derived key. Anything longer is replaced by its digest so keys stay
// bounded regardless of caller input.
const maxNaturalKeyLen = 64

// HashKey creates a short SHA-256 digest of the text.
func HashKey(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DeriveKey builds a cache key from a prefix and the arguments that
// identify the computation. Short natural keys stay readable; long ones
// are hashed.
func DeriveKey(prefix string, args ...string) string {
	natural := strings.Join(args, ":")
	if len(natural) > maxNaturalKeyLen {
		natural = HashKey(natural)
	}
	if natural == "" {
		return prefix
	}
	return prefix + ":" + natural
}

// QueryKey derives a key for a search query and result size. Queries
// are free text, so they are always hashed.
func QueryKey(prefix, query string, limit int) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{byte(limit >> 8), byte(limit)})
	return prefix + ":query:" + hex.EncodeToString(h.Sum(nil))[:16]
}
