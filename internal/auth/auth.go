// Package auth verifies session tokens issued at login. Tokens are HS256
// JWTs whose subject is the user id.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid session token")

type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewVerifier(secret []byte, opts ...jwt.ParserOption) *Verifier {
	return &Verifier{
		secret: secret,
		opts:   append([]jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}, opts...),
	}
}

// Verify returns the user id carried by token.
func (v *Verifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return "", errors.Wrap(ErrInvalidToken, "missing subject")
	}
	return claims.Subject, nil
}

// Issue signs a session token for userID.
func Issue(secret []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

type userKey struct{}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the authenticated user id, or "" for anonymous
// requests.
func UserFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userKey{}).(string); ok {
		return id
	}
	return ""
}
