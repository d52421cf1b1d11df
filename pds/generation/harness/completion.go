package harness

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/metrics"
)

const (
	// DefaultSystemPrompt is the system turn of every reply completion.
	DefaultSystemPrompt = "You are a helpful assistant."

	// DefaultMaxContentLength caps generated post length in characters.
	DefaultMaxContentLength = 280

	ellipsis = "..."
)

// CompletionClient issues one chat completion per call with bounded retry and output
// normalization.
type CompletionClient struct {
	provider  ports.Provider
	limiter   ports.RateLimiter
	tracer    ports.Tracer
	logger    zerolog.Logger
	maxLength int
	timeout   time.Duration
}

// NewCompletionClient wires a client. maxLength <= 0 uses DefaultMaxContentLength and a
// zero timeout leaves provider calls bounded only by ctx.
func NewCompletionClient(provider ports.Provider, limiter ports.RateLimiter, tracer ports.Tracer, logger zerolog.Logger, maxLength int, timeout time.Duration) *CompletionClient {
	if maxLength <= 0 {
		maxLength = DefaultMaxContentLength
	}
	return &CompletionClient{
		provider:  provider,
		limiter:   limiter,
		tracer:    tracer,
		logger:    logger.With().Str("component", "completion").Logger(),
		maxLength: maxLength,
		timeout:   timeout,
	}
}

// Complete sends prompt as the user turn under DefaultSystemPrompt.
func (c *CompletionClient) Complete(ctx context.Context, prompt string, persona PersonaConfig) (string, error) {
	return c.CompleteRaw(ctx, DefaultSystemPrompt, prompt, persona)
}

// CompleteRaw sends a chat completion with a caller-chosen system turn. It returns
// ErrInvalidRequest without calling the provider for unusable input, and
// ErrCompletionExhausted once every attempt allowed by the persona's retry policy failed.
func (c *CompletionClient) CompleteRaw(ctx context.Context, system, user string, persona PersonaConfig) (string, error) {
	creds := persona.Credentials
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if creds.Model == "" {
		return "", fmt.Errorf("%w: no model resolved for persona %s", ErrInvalidRequest, persona.Persona.ID)
	}

	policy := persona.Retry
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}

	ctx, finish := c.tracer.StartSpan(ctx, "completion", map[string]any{
		"persona": persona.Persona.Username,
		"model":   creds.Model,
	})

	req := ports.ChatRequest{Credentials: creds, System: system, User: user}
	attempt := 0
	fatal := false
	var text string

	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		out, err := c.attempt(ctx, req)
		if err == nil {
			out = Normalize(out, c.maxLength)
			if out == "" {
				err = ErrEmptyCompletion
			} else {
				text = out
				metrics.CompletionAttempts.WithLabelValues(creds.Model, "success").Inc()
				return nil
			}
		}

		if !policy.retryable(err) {
			fatal = true
			metrics.CompletionAttempts.WithLabelValues(creds.Model, "fatal").Inc()
			return err
		}
		metrics.CompletionAttempts.WithLabelValues(creds.Model, "retryable").Inc()
		c.logger.Warn().Err(err).
			Str("persona", persona.Persona.Username).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Msg("Completion attempt failed")
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		finish(nil)
		return text, nil
	case fatal, ctx.Err() != nil:
		finish(err)
		return "", err
	default:
		err = fmt.Errorf("%w after %d attempts: %w", ErrCompletionExhausted, attempt, err)
		finish(err)
		return "", err
	}
}

func (c *CompletionClient) attempt(ctx context.Context, req ports.ChatRequest) (string, error) {
	release, err := c.limiter.Acquire(ctx, req.Credentials.Model)
	if err != nil {
		return "", fmt.Errorf("rate limit for %s: %w", req.Credentials.Model, err)
	}
	defer release()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := c.provider.ChatComplete(ctx, req)
	metrics.CompletionLatency.Observe(time.Since(start).Seconds())
	return out, err
}

// backoff turns the policy into a go-retry schedule. retry.NewConstant rejects a zero
// interval, so immediate re-attempts use a plain BackoffFunc.
func (p RetryPolicy) backoff() retry.Backoff {
	var b retry.Backoff
	if p.Backoff > 0 {
		b = retry.NewConstant(p.Backoff)
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Normalize trims whitespace and surrounding double quotes and caps s at maxLength characters,
// replacing the tail with "..." when it is cut.
func Normalize(s string, maxLength int) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.TrimSpace(s)

	if maxLength <= len(ellipsis) || utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLength-len(ellipsis)]) + ellipsis
}
