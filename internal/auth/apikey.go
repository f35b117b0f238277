package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const apiKeyLength = 48

const apiKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewAPIKey generates a raw API key: "sk-" followed by 48 random
// alphanumeric characters. The raw key is shown to the owner once; only its
// hash is ever persisted.
func NewAPIKey() (string, error) {
	buf := make([]byte, apiKeyLength)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate api key: %w", err)
		}
		buf[i] = apiKeyAlphabet[n.Int64()]
	}
	return APIKeyPrefix + string(buf), nil
}

// APIKeyDisplayPrefix returns the short identifying prefix persisted and
// listed alongside a key: "sk-" plus the first five characters.
func APIKeyDisplayPrefix(rawKey string) string {
	const keep = len(APIKeyPrefix) + 5
	if len(rawKey) < keep {
		return rawKey
	}
	return rawKey[:keep]
}
