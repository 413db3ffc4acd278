package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashParts hashes each part with a length prefix so ("ab","c") and ("a","bc") differ.
func HashParts(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		var size [8]byte
		n := uint64(len(p))
		for i := 0; i < 8; i++ {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func HashString(input string) string {
	return HashParts([]byte(input))
}
