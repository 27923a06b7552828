package typedpath

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash returns the hex BLAKE2b-256 digest of the canonical remote, used as
// the cache slot directory name. Equivalent spellings of the same remote
// hash identically.
func (r Remote) Hash() string {
	sum := blake2b.Sum256([]byte(r.Canonical()))
	return hex.EncodeToString(sum[:])
}
