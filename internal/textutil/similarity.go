package textutil

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
)

// PhashDistance returns the Hamming distance between two perceptual hashes
// encoded as hex strings of equal length.
func PhashDistance(a, b string) (int, error) {
	left, err := hex.DecodeString(strings.TrimSpace(a))
	if err != nil {
		return 0, fmt.Errorf("decode fingerprint %q: %w", a, err)
	}
	right, err := hex.DecodeString(strings.TrimSpace(b))
	if err != nil {
		return 0, fmt.Errorf("decode fingerprint %q: %w", b, err)
	}
	if len(left) != len(right) {
		return 0, fmt.Errorf("fingerprint length mismatch: %d vs %d bytes", len(left), len(right))
	}
	distance := 0
	for i := range left {
		distance += bits.OnesCount8(left[i] ^ right[i])
	}
	return distance, nil
}

// ValidPhash reports whether value is a non-empty even-length hex string.
func ValidPhash(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
