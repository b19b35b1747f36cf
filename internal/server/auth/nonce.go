package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidNonce = fmt.Errorf("%w: invalid nonce", common.ErrorUnauthorized)
	ErrStaleNonce   = fmt.Errorf("%w: stale nonce", common.ErrorUnauthorized)
)

// NonceIssuer mints digest nonces as HS256-signed tokens, so any server
// holding the key can verify a nonce without shared state.
type NonceIssuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

// nonceClaims carries the issue time at full precision; IssuedAt is rounded
// to seconds and the replay cache orders nonces finer than that.
type nonceClaims struct {
	jwt.RegisteredClaims
	IssuedNano int64 `json:"ins"`
}

func NewNonceIssuer(secret []byte, validity time.Duration) *NonceIssuer {
	return &NonceIssuer{secret: secret, validity: validity, now: time.Now}
}

func (i *NonceIssuer) Issue() (string, error) {
	id, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}

	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, nonceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
		IssuedNano: now.UnixNano(),
	})

	return token.SignedString(i.secret)
}

// Check verifies a nonce and returns when it was issued. An authentic but
// expired nonce yields ErrStaleNonce so the client can retry with a fresh one
// without asking for credentials.
func (i *NonceIssuer) Check(nonce string) (time.Time, error) {
	var claims nonceClaims
	_, err := jwt.ParseWithClaims(nonce, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	switch {
	case err == nil:
		return time.Unix(0, claims.IssuedNano), nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return time.Time{}, ErrStaleNonce
	default:
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}
}
