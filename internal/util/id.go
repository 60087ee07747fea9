package util

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewDigits returns n uniformly random decimal digits, leading zeros kept.
func NewDigits(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}
