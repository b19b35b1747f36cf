// Package client talks to the synk sync API over HTTP.
//
// HTTPClient answers HTTP Digest challenges (qop=auth, MD5) through
// github.com/icholy/digest: the first request of a session draws a
// challenge, later requests reuse the nonce with an incrementing nonce count,
// and a stale nonce is replaced without surfacing an error.
//
// Server replies map onto errors callers can match with errors.Is:
// common.ErrorInvalidSchema (400), ErrUnauthorized (401),
// common.ErrorAlreadyExists or common.ErrVersionConflict (409) and
// ErrUnavailable (503 or a transport failure). Conflicts and unavailability
// are safe to retry.
package client
