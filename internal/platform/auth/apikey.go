package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKeyVerifier checks the client application key sent in X-API-Key against
// a bcrypt hash. A verifier with an empty hash accepts every request.
type APIKeyVerifier struct {
	hash []byte
}

func NewAPIKeyVerifier(bcryptHash string) APIKeyVerifier {
	return APIKeyVerifier{hash: []byte(strings.TrimSpace(bcryptHash))}
}

func (v APIKeyVerifier) Enabled() bool {
	return len(v.hash) > 0
}

func (v APIKeyVerifier) Verify(key string) error {
	if !v.Enabled() {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// HashAPIKey produces the value expected in API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
