package verification

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// GenerateCode returns a random code drawn from A-Z0-9
func GenerateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(codeLength)
	for range codeLength {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// NormalizeCode canonicalizes user input before comparison
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
