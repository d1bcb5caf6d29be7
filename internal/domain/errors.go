package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProviders is returned when no provider could be initialized.
	ErrNoProviders = errors.New("no LLM providers could be initialized")

	// ErrNoProviderAvailable is returned when selection yields nothing.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrNoProgress is returned when failure handling keeps the same provider
	// and model selected, so retrying cannot help.
	ErrNoProgress = errors.New("failure handling made no progress")

	// ErrUnknownProvider is returned for names that are not initialized.
	ErrUnknownProvider = errors.New("unknown provider")
)

// FatalError marks a condition the manager cannot recover from on its own.
type FatalError struct {
	Op       string // Operation that failed (init, client, ...)
	Provider string // Provider selected when it failed, if any
	Model    string // Model selected when it failed, if any
	Err      error  // Underlying error
}

func (e *FatalError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("fatal %s error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("fatal %s error (provider=%s model=%s): %v", e.Op, e.Provider, e.Model, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal checks if an error is, or wraps, a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
