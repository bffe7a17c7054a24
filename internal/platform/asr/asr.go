// Package asr wraps the speech-to-text backends. Both variants share one
// contract: hand the provider a publicly fetchable media URL, poll until the
// job is terminal, and return the plain transcript text.
package asr

import (
	"context"
	"errors"
)

// ErrTimeout is returned when a transcription job does not reach a terminal
// state within the overall wait ceiling.
var ErrTimeout = errors.New("transcription timed out")

// Transcriber is the speech-to-text contract.
type Transcriber interface {
	// Transcribe blocks until the job finishes, times out, or fails.
	// The returned text joins sentences with newlines; an empty string
	// means no speech was detected.
	Transcribe(ctx context.Context, mediaURL string) (string, error)

	// Available reports whether the backend's credentials are present and
	// its remote client could be constructed.
	Available() bool
}
