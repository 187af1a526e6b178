package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

// ErrUnauthorized is returned for a missing, invalid or foreign registration token.
var ErrUnauthorized = errors.New("relay: unauthorized")

// IssueToken signs an HS256 registration token for account.
func IssueToken(secret, account string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("relay: empty token secret")
	}
	claims := jwt.StandardClaims{
		Subject:   account,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks signature, expiry and that the token was issued for account.
func VerifyToken(secret, account, token string) error {
	var claims jwt.StandardClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return ErrUnauthorized
	}
	if claims.Subject != account {
		return fmt.Errorf("%w: token issued for another account", ErrUnauthorized)
	}
	return nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
