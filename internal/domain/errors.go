// Package domain provides the sentinel errors shared across Maestro's
// adapters and services.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist. The postgres
// adapter wraps pgx.ErrNoRows into this; the HTTP layer maps it to 404.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a lost optimistic-locking race or a uniqueness
// violation; mapped to 409.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request that is well-formed JSON but semantically
// unusable (missing prompt and persona, empty name). Mapped to 400 with the
// wrapped detail exposed to the caller.
var ErrValidation = errors.New("validation")

// Validationf builds an ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
