// Package errs contains sentinel and typed errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"strings"
)

// Common sentinels across repo/service/client layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad credentials, expired or revoked session).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrWeakPassword indicates the password does not satisfy the minimum policy.
	ErrWeakPassword = errors.New("weak password")

	// ErrPermissionDenied indicates access to a path owned by another principal.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidPath indicates a storage path outside the users/{uid}/tasks layout.
	ErrInvalidPath = errors.New("invalid path")

	// ErrUnavailable indicates the remote store could not be reached.
	ErrUnavailable = errors.New("unavailable")
)

// AuthenticationError is returned by sign-in, sign-up and sign-out. Msg is the provider's
// message and is meant to be shown to the user as is.
type AuthenticationError struct {
	Op  string
	Msg string
	Err error
}

func (e *AuthenticationError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("authentication failed")
	}
	return b.String()
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// StorageError is returned by remote store operations (write, patch, delete, watch).
type StorageError struct {
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("storage failure")
	}
	return b.String()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError rejects user input before it reaches a write-through operation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return "validation: " + e.Field + ": " + e.Msg
}
