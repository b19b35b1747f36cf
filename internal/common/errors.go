// Package common defines shared constants and sentinel errors used across
// the synk server and client. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// ErrVersionConflict means a shard was written by someone else since it
	// was loaded. Retrying the whole request is safe.
	ErrVersionConflict = errors.New("version conflict")

	// ErrorPersistence wraps backend failures. Retrying the whole request is safe.
	ErrorPersistence = errors.New("persistence error")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors.
	ErrorInvalidSchema   = errors.New("invalid schema")
	ErrorInvalidUsername = errors.New("invalid username")
)
