package secrets

import (
	"errors"

	"secret.vault/internal/sanitize"
)

var (
	// ErrNotFound covers malformed ids, expired records and consumed one-time
	// records alike.
	ErrNotFound          = errors.New("secret not found")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	ErrSanitization      = sanitize.ErrForbiddenContent
)

// ValidationError describes a malformed create or unlock request.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Msg
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
