package models

import "errors"

// Common errors for store and pipeline operations.
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateUser      = errors.New("username already exists")
	ErrUserDisabled       = errors.New("user account is disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRootImmutable      = errors.New("root account may not be modified")

	// File errors
	ErrFileNotFound = errors.New("file not found")

	// Album errors
	ErrAlbumNotFound  = errors.New("album not found")
	ErrDuplicateAlbum = errors.New("album name already in use")

	// Identifier allocation
	ErrIdentifierExhausted = errors.New("identifier space exhausted")

	// Chunk sessions
	ErrChunkConflict      = errors.New("concurrent chunk write for the same uuid")
	ErrChunkSessionAbsent = errors.New("no chunk session for uuid")
	ErrInvalidChunkCount  = errors.New("invalid chunks count")
	ErrChunkSizeMismatch  = errors.New("chunked upload size mismatch")
)
