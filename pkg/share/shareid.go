package share

import (
	"math/big"

	"github.com/google/uuid"
)

// ShareIDLength is the fixed length of a share id.
const ShareIDLength = 10

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base62 = big.NewInt(62)

// newShareID derives a short opaque id from a fresh UUID: the UUID's 128
// bits are base62-encoded and the leading ShareIDLength characters kept.
// Collisions are possible in principle; the caller retries under its lock.
func newShareID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])

	// Encode least-significant first, then reverse.
	buf := make([]byte, 0, 22)
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base62, mod)
		buf = append(buf, base62Alphabet[mod.Int64()])
	}
	for len(buf) < ShareIDLength {
		buf = append(buf, '0')
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf[:ShareIDLength])
}

// validShareID reports whether s is shaped like a share id. Malformed ids
// skip access logging entirely.
func validShareID(s string) bool {
	if len(s) != ShareIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
