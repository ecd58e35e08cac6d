package ai

import "errors"

var (
	// ErrEmbedding marks a failed embedding call: provider error, timeout
	// or a response that does not line up with the request.
	ErrEmbedding = errors.New("embedding failure")

	// ErrGeneration marks a failed generation call: provider error,
	// timeout or empty output.
	ErrGeneration = errors.New("generation failure")
)
