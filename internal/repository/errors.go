package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a unique constraint was violated.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrAlreadyRevoked indicates a guarded revoke matched no rows because
	// another writer revoked the record first.
	ErrAlreadyRevoked = errors.New("repository: already revoked")
)
