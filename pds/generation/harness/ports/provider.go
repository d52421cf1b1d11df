package harnessports

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
)

// ErrInvalidRequest marks input a provider can never accept. It is not retried.
var ErrInvalidRequest = errors.New("invalid completion request")

// ChatRequest is a single system + user chat completion with resolved credentials.
type ChatRequest struct {
	Credentials discourse.Credentials
	System      string
	User        string
}

// Provider is the abstraction for chat-completion backends. Implementations return an
// *UpstreamError for transport, quota or server failures so callers can retry them.
type Provider interface {
	ChatComplete(ctx context.Context, req ChatRequest) (string, error)
}

// UpstreamError marks a provider failure that may succeed on a later attempt.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream completion failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream completion failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
