package auth

import (
	"crypto/subtle"
	"strings"
)

const bearerPrefix = "Bearer "

// BearerToken extracts the credential from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// SecretTokenValidator compares incoming admin credentials against the
// configured secret in constant time.
type SecretTokenValidator struct {
	expected []byte
}

func NewSecretTokenValidator(secret string) SecretTokenValidator {
	return SecretTokenValidator{expected: []byte(secret)}
}

func (v SecretTokenValidator) Validate(token string) bool {
	if len(v.expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(v.expected, []byte(token)) == 1
}

// ValidateHeader is BearerToken followed by Validate.
func (v SecretTokenValidator) ValidateHeader(header string) bool {
	token, ok := BearerToken(header)
	return ok && v.Validate(token)
}

type Config struct {
	// SecretToken guards administrative endpoints. Empty rejects every caller.
	SecretToken string `mapstructure:"secret_token"`
}
