package harness

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
)

// RetryPolicy bounds the attempts made for one completion.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Backoff     time.Duration // wait between attempts; 0 re-attempts immediately
	// Retryable reports whether an attempt error may succeed later. Nil retries every
	// error except ErrInvalidRequest and context cancellation.
	Retryable func(error) bool
}

// DefaultRetryPolicy is three immediate attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3}
}

func (p RetryPolicy) retryable(err error) bool {
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// PersonaConfig is the validated, fully resolved configuration a persona acts with.
type PersonaConfig struct {
	Persona     discourse.Persona
	Objective   string
	Credentials discourse.Credentials // persona overrides merged over process defaults
	Retry       RetryPolicy
}

// NewPersonaConfig resolves credentials and validates everything a completion needs.
// Failures wrap ErrInvalidPersona.
func NewPersonaConfig(p discourse.Persona, defaults discourse.Credentials, retry RetryPolicy, maxTokens int) (PersonaConfig, error) {
	if p.ID == "" {
		return PersonaConfig{}, fmt.Errorf("%w: missing id", ErrInvalidPersona)
	}
	if strings.TrimSpace(p.Username) == "" {
		return PersonaConfig{}, fmt.Errorf("%w: persona %s has no username", ErrInvalidPersona, p.ID)
	}
	if p.ProfileID == "" {
		return PersonaConfig{}, fmt.Errorf("%w: persona %s has no profile", ErrInvalidPersona, p.ID)
	}
	if retry.MaxAttempts < 1 {
		return PersonaConfig{}, fmt.Errorf("%w: retry attempts must be at least 1", ErrInvalidPersona)
	}

	creds := p.Credentials.Merge(defaults)
	if creds.Model == "" {
		return PersonaConfig{}, fmt.Errorf("%w: persona %s has no model", ErrInvalidPersona, p.ID)
	}
	if creds.BaseURL != "" {
		if u, err := url.Parse(creds.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return PersonaConfig{}, fmt.Errorf("%w: persona %s base url %q is not absolute", ErrInvalidPersona, p.ID, creds.BaseURL)
		}
	}

	objective := normalizeWhitespace(p.Objective())
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokenLength
	}
	if n := countTokens(objective); n > maxTokens {
		return PersonaConfig{}, fmt.Errorf("%w: persona %s objective has %d tokens, memory cap is %d", ErrInvalidPersona, p.ID, n, maxTokens)
	}

	return PersonaConfig{
		Persona:     p,
		Objective:   objective,
		Credentials: creds,
		Retry:       retry,
	}, nil
}

// WithModel returns a copy that completes against model instead of the persona's own.
func (c PersonaConfig) WithModel(model string) PersonaConfig {
	if model != "" {
		c.Credentials.Model = model
	}
	return c
}
