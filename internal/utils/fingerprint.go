package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint computes a deterministic content fingerprint over the given
// fields. Each field is length-prefixed before hashing so that field
// boundaries cannot alias ("ab","c" never hashes like "a","bc").
func Fingerprint(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		fmt.Fprintf(h, "%d:", len(f))
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
