package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultJWTTTL = 24 * time.Hour

var errEmptySubject = errors.New("token subject is required")

// TokenIssuer mints the bearer tokens the HTTP API accepts.
type TokenIssuer struct {
	jwtKey []byte
	now    func() time.Time
}

func NewTokenIssuer(jwtKey []byte) *TokenIssuer {
	return &TokenIssuer{jwtKey: jwtKey, now: time.Now}
}

// Issue signs an HS256 token for subject. ttl <= 0 uses the 24h default.
func (i *TokenIssuer) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errEmptySubject
	}
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}

	now := i.now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(i.jwtKey)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
