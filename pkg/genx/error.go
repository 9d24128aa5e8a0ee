package genx

import (
	"errors"
	"fmt"
)

var (
	// ErrBlocked means the provider refused to answer.
	ErrBlocked = errors.New("genx: generate blocked")

	// ErrTruncated means the reply hit the token limit.
	ErrTruncated = errors.New("genx: generate truncated")

	// ErrNoContent means the provider returned no usable reply.
	ErrNoContent = errors.New("genx: no content")
)

// Blocked wraps ErrBlocked with the provider's reason.
func Blocked(reason string) error {
	if reason == "" {
		return ErrBlocked
	}
	return fmt.Errorf("%w: %s", ErrBlocked, reason)
}
