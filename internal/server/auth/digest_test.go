package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/icholy/digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds map[string]string

func (f fakeCreds) HA1(_ context.Context, username string) (string, error) {
	ha1, ok := f[username]
	if !ok {
		return "", common.ErrorNotFound
	}
	return ha1, nil
}

func newTestDigest(t *testing.T) (*Digest, *NonceIssuer) {
	t.Helper()
	issuer := NewNonceIssuer([]byte("k"), time.Minute)
	creds := fakeCreds{"alice": HA1("alice", "Synk", "pw")}
	return NewDigest("Synk", issuer, NewNonceCache(100, time.Minute), creds), issuer
}

func nonceFrom(t *testing.T, challenge string) string {
	t.Helper()
	c, err := digest.ParseChallenge(challenge)
	require.NoError(t, err)
	return c.Nonce
}

func authorization(user, password, method, uri, nonce string, nc int) string {
	cred, err := digest.Digest(&digest.Challenge{Realm: "Synk", Nonce: nonce, QOP: []string{"auth"}}, digest.Options{
		Method:   method,
		URI:      uri,
		Count:    nc,
		Username: user,
		Password: password,
		Cnonce:   "cn",
	})
	if err != nil {
		panic(err)
	}
	return cred.String()
}

func TestHA1(t *testing.T) {
	// RFC 2617 section 3.5
	assert.Equal(t, "939e7578ed9e3c518a452acee763bce9", HA1("Mufasa", "testrealm@host.com", "Circle Of Life"))
}

func TestDigest_Challenge(t *testing.T) {
	d, _ := newTestDigest(t)

	raw, err := d.Challenge(false)
	require.NoError(t, err)
	c, err := digest.ParseChallenge(raw)
	require.NoError(t, err)
	assert.Equal(t, "Synk", c.Realm)
	assert.Equal(t, []string{"auth"}, c.QOP)
	assert.Equal(t, "MD5", c.Algorithm)
	assert.NotEmpty(t, c.Nonce)
	assert.NotEmpty(t, c.Opaque)
	assert.False(t, c.Stale)
	assert.True(t, digest.CanDigest(c))

	raw, err = d.Challenge(true)
	require.NoError(t, err)
	c, err = digest.ParseChallenge(raw)
	require.NoError(t, err)
	assert.True(t, c.Stale)
}

func TestDigest_Authenticate(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDigest(t)
	c, err := d.Challenge(false)
	require.NoError(t, err)
	nonce := nonceFrom(t, c)

	user, err := d.Authenticate(ctx, "GET", "/status", authorization("alice", "pw", "GET", "/status?since=5", nonce, 1))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	// same nonce count again is a replay
	_, err = d.Authenticate(ctx, "GET", "/status", authorization("alice", "pw", "GET", "/status?since=5", nonce, 1))
	assert.ErrorIs(t, err, ErrReplay)

	_, err = d.Authenticate(ctx, "PUT", "/status", authorization("alice", "pw", "PUT", "/status", nonce, 2))
	assert.NoError(t, err)
}

func TestDigest_Rejects(t *testing.T) {
	ctx := context.Background()
	d, _ := newTestDigest(t)
	c, err := d.Challenge(false)
	require.NoError(t, err)
	nonce := nonceFrom(t, c)

	tests := []struct {
		name   string
		method string
		path   string
		header string
	}{
		{"basic scheme", "GET", "/status", "Basic YWxpY2U6cHc="},
		{"empty", "GET", "/status", ""},
		{"wrong password", "GET", "/status", authorization("alice", "nope", "GET", "/status", nonce, 1)},
		{"unknown user", "GET", "/status", authorization("bob", "pw", "GET", "/status", nonce, 1)},
		{"method mismatch", "DELETE", "/status", authorization("alice", "pw", "GET", "/status", nonce, 1)},
		{"uri mismatch", "GET", "/status", authorization("alice", "pw", "GET", "/register", nonce, 1)},
		{"forged nonce", "GET", "/status", authorization("alice", "pw", "GET", "/status", "abc", 1)},
		{"missing cnonce", "GET", "/status", `Digest username="alice", realm="Synk", nonce="` + nonce + `", uri="/status", qop=auth, nc=00000001, response="x"`},
		{"wrong realm", "GET", "/status", strings.Replace(authorization("alice", "pw", "GET", "/status", nonce, 1), `realm="Synk"`, `realm="Other"`, 1)},
		{"qop auth-int", "GET", "/status", strings.Replace(authorization("alice", "pw", "GET", "/status", nonce, 1), "qop=auth", "qop=auth-int", 1)},
		{"zero nc", "GET", "/status", strings.Replace(authorization("alice", "pw", "GET", "/status", nonce, 1), "nc=00000001", "nc=00000000", 1)},
		{"bad nc", "GET", "/status", strings.Replace(authorization("alice", "pw", "GET", "/status", nonce, 1), "nc=00000001", "nc=zz", 1)},
		{"sha-256", "GET", "/status", strings.Replace(authorization("alice", "pw", "GET", "/status", nonce, 1), `realm="Synk"`, `realm="Synk", algorithm=SHA-256`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Authenticate(ctx, tt.method, tt.path, tt.header)
			assert.ErrorIs(t, err, common.ErrorUnauthorized)
		})
	}
}

func TestDigest_StaleNonce(t *testing.T) {
	d, issuer := newTestDigest(t)
	now := time.Now()
	issuer.now = func() time.Time { return now }

	c, err := d.Challenge(false)
	require.NoError(t, err)
	nonce := nonceFrom(t, c)

	now = now.Add(time.Hour)
	_, err = d.Authenticate(context.Background(), "GET", "/status", authorization("alice", "pw", "GET", "/status", nonce, 1))
	assert.ErrorIs(t, err, ErrStaleNonce)
}
