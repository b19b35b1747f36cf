// Package auth implements HTTP Digest authentication (RFC 2617, qop=auth,
// MD5) for the sync API.
package auth

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/icholy/digest"
)

const qopAuth = "auth"

// CredentialStore returns the stored HA1 of a user, or common.ErrorNotFound.
type CredentialStore interface {
	HA1(ctx context.Context, username string) (string, error)
}

// HA1 is md5(username:realm:password), the credential the server stores in
// place of the password.
func HA1(username, realm, password string) string {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return hex.EncodeToString(sum[:])
}

type Digest struct {
	realm  string
	nonces *NonceIssuer
	seen   *NonceCache
	creds  CredentialStore
}

func NewDigest(realm string, nonces *NonceIssuer, seen *NonceCache, creds CredentialStore) *Digest {
	return &Digest{realm: realm, nonces: nonces, seen: seen, creds: creds}
}

func (d *Digest) Realm() string { return d.realm }

// Challenge returns a WWW-Authenticate value carrying a fresh nonce.
func (d *Digest) Challenge(stale bool) (string, error) {
	nonce, err := d.nonces.Issue()
	if err != nil {
		return "", fmt.Errorf("issue nonce: %w", err)
	}
	opaque, err := common.MakeRandHexString(16)
	if err != nil {
		return "", err
	}

	c := &digest.Challenge{
		Realm:     d.realm,
		Nonce:     nonce,
		Opaque:    opaque,
		Stale:     stale,
		Algorithm: "MD5",
		QOP:       []string{qopAuth},
	}
	return c.String(), nil
}

// Authenticate checks an Authorization header sent with method for path and
// returns the authenticated username. Failures wrap common.ErrorUnauthorized;
// ErrStaleNonce means the credentials were right but the nonce expired.
func (d *Digest) Authenticate(ctx context.Context, method, path, header string) (string, error) {
	if !digest.IsDigest(header) {
		return "", fmt.Errorf("%w: digest credentials required", common.ErrorUnauthorized)
	}
	cred, err := digest.ParseCredentials(header)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}
	if err := d.check(cred, path); err != nil {
		return "", err
	}

	issued, err := d.nonces.Check(cred.Nonce)
	if err != nil {
		return "", err
	}

	ha1, err := d.creds.HA1(ctx, cred.Username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", fmt.Errorf("%w: unknown user", common.ErrorUnauthorized)
		}
		return "", err
	}

	want, err := digest.Digest(&digest.Challenge{
		Realm:     d.realm,
		Nonce:     cred.Nonce,
		Opaque:    cred.Opaque,
		Algorithm: cred.Algorithm,
		QOP:       []string{qopAuth},
	}, digest.Options{
		Method:   method,
		URI:      cred.URI,
		Count:    cred.Nc,
		Username: cred.Username,
		A1:       ha1,
		Cnonce:   cred.Cnonce,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}
	if subtle.ConstantTimeCompare([]byte(want.Response), []byte(strings.ToLower(cred.Response))) != 1 {
		return "", fmt.Errorf("%w: bad response", common.ErrorUnauthorized)
	}

	if err := d.seen.Accept(cred.Nonce, issued, uint64(cred.Nc)); err != nil {
		return "", err
	}

	return cred.Username, nil
}

// check validates the fields that do not need the user's secret.
func (d *Digest) check(cred *digest.Credentials, path string) error {
	missing := ""
	switch {
	case cred.Username == "":
		missing = "username"
	case cred.Nonce == "":
		missing = "nonce"
	case cred.URI == "":
		missing = "uri"
	case cred.Response == "":
		missing = "response"
	case cred.QOP == "":
		missing = "qop"
	case cred.Cnonce == "":
		missing = "cnonce"
	case cred.Nc <= 0:
		missing = "nc"
	}
	if missing != "" {
		return fmt.Errorf("%w: missing %s", common.ErrorUnauthorized, missing)
	}

	if cred.Realm != d.realm {
		return fmt.Errorf("%w: wrong realm", common.ErrorUnauthorized)
	}
	if cred.QOP != qopAuth {
		return fmt.Errorf("%w: unsupported qop %q", common.ErrorUnauthorized, cred.QOP)
	}
	if cred.Algorithm != "" && !strings.EqualFold(cred.Algorithm, "MD5") {
		return fmt.Errorf("%w: unsupported algorithm %q", common.ErrorUnauthorized, cred.Algorithm)
	}
	if cred.Userhash {
		return fmt.Errorf("%w: userhash not supported", common.ErrorUnauthorized)
	}
	if uriPath, _, _ := strings.Cut(cred.URI, "?"); uriPath != path {
		return fmt.Errorf("%w: uri does not match request", common.ErrorUnauthorized)
	}
	return nil
}
