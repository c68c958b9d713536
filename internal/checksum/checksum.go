// Package checksum computes content digests used to detect stale index rows.
package checksum

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Sum returns the 16-digit hex XXH64 digest of data.
func Sum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Equal reports whether data hashes to want. An empty want never matches.
func Equal(data []byte, want string) bool {
	return want != "" && Sum(data) == want
}
