package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid startup configuration. It is never recovered.
	ErrConfiguration = errors.New("configuration error")
	// ErrDimensionMismatch marks an embedding whose length disagrees with the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyQuery is returned when a query has no non-space characters.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNoReadableText is returned for documents whose extracted text is blank.
	ErrNoReadableText = errors.New("no readable text found")
)

// ProviderError reports a failed call to an external embedding or generation service.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a ProviderError. A nil err yields nil.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// IsProviderError reports whether err is, or wraps, a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// DimensionError builds an error wrapping ErrDimensionMismatch.
func DimensionError(want, got int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, got)
}
