// Package auth validates bearer tokens and produces principals. Verification
// is purely local (HMAC signature + expiry), so it is safe to run on the
// connection accept path without a timeout.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sobun/chat/internal/model"
)

// ErrInvalidToken covers every verification failure: malformed, expired,
// wrong signature, missing claims. Callers decide whether that is fatal
// (HTTP API) or degrades to anonymous (WebSocket handshake).
var ErrInvalidToken = errors.New("invalid token")

// Verifier checks HS256 bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a raw token and returns the principal encoded
// in it. Any failure returns ErrInvalidToken.
func (v *Verifier) Verify(raw string) (model.Principal, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return model.Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Principal{}, ErrInvalidToken
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return model.Principal{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return model.Principal{UserID: userID, Role: role}, nil
}

// Sign issues a token for the given user. Used by tests and ops tooling;
// user-facing token issuance lives in the auth service.
func (v *Verifier) Sign(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// FromBearer extracts the raw token from an "Authorization: Bearer x" value.
// Returns "" when the header is absent or not a bearer credential.
func FromBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
