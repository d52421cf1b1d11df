package harness

import (
	"errors"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

var (
	// ErrNotFound aliases discourse.ErrNotFound so callers need only one import.
	ErrNotFound = discourse.ErrNotFound

	// ErrCompletionExhausted is returned when every retryable attempt failed.
	ErrCompletionExhausted = errors.New("completion retries exhausted")

	// ErrInvalidRequest is returned for input the provider can never accept; it is not retried.
	ErrInvalidRequest = ports.ErrInvalidRequest

	// ErrEmptyCompletion is returned when the model answered with nothing usable.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrInvalidPersona is returned when a persona's configuration fails validation.
	ErrInvalidPersona = errors.New("invalid persona configuration")
)
