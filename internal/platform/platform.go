// Package platform holds the provider-neutral contract shared by the
// generation backends: call options and the distinguishable failure modes.
package platform

import (
	"errors"
	"fmt"
	"time"
)

// ChatOptions tunes a single chat-completion call. Zero values fall back to
// the backend's defaults.
type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// ErrTimeout is returned when a generation call exceeds its overall timeout,
// after the retry policy is exhausted.
var ErrTimeout = errors.New("generation request timed out")

// ErrEmptyContent is returned when the provider answered but with no usable
// content.
var ErrEmptyContent = errors.New("generation response contained no content")

// ErrNotConfigured is returned when the backend has no credentials.
var ErrNotConfigured = errors.New("generation provider is not configured")

// ProviderError carries a message the provider itself returned.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("generation provider error: %s", e.Message)
}
