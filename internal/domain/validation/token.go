package validation

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecureToken returns a random alphanumeric string of length n.
func GenerateSecureToken(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	limit := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		buf[i] = tokenAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
