package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/config"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg      *config.Config
	db       *sql.DB
	logger   zerolog.Logger
	provider ports.Provider
	rng      Random
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// WithProvider replaces the OpenAI-compatible provider.
func (f *Factory) WithProvider(p ports.Provider) *Factory {
	f.provider = p
	return f
}

// WithRandom replaces the clock-seeded random source.
func (f *Factory) WithRandom(r Random) *Factory {
	f.rng = r
	return f
}

// Runtime is a fully wired pipeline.
type Runtime struct {
	Store         *adapters.LibSQLStore
	Notifications *adapters.LibSQLNotificationSink
	Orchestrator  *Orchestrator
	Dispatcher    *Dispatcher
	closers       []func() error
}

// Close drains dispatched tasks and releases connections the runtime opened.
func (r *Runtime) Close() error {
	r.Dispatcher.Close()
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Build wires store, analyzer, completion, orchestrator and dispatcher, and registers
// the dispatcher to run after every committed human top-level post.
func (f *Factory) Build() (*Runtime, error) {
	if f.db == nil {
		return nil, fmt.Errorf("harness factory needs a database")
	}

	rt := &Runtime{}
	rng := f.rng
	if rng == nil {
		rng = NewTimeSeededRandom()
	}

	store := adapters.NewLibSQLStore(f.db, f.logger)
	notifications := adapters.NewLibSQLNotificationSink(f.db, f.logger)
	tracer := f.createTracer()

	ledger, closeLedger, err := f.createLedger()
	if err != nil {
		return nil, err
	}
	if closeLedger != nil {
		rt.closers = append(rt.closers, closeLedger)
	}

	provider := f.provider
	if provider == nil {
		provider = adapters.NewOpenAIProvider(&http.Client{Timeout: f.cfg.LLM.Timeout})
	}

	completion := NewCompletionClient(provider, f.createRateLimiter(), tracer, f.logger, f.cfg.LLM.MaxContentLength, f.cfg.LLM.Timeout)

	policy := f.CreatePolicy()
	analyzer := NewContextAnalyzer(store, completion, f.createCache(), f.cfg.Harness.CacheTTLSeconds, policy.Defaults, f.logger).
		WithModel(f.cfg.LLM.AnalysisModel)
	activity := NewActivityHeuristic(store, f.CreateActivityPolicy(), rng, f.logger)

	orchestrator := NewOrchestrator(store, notifications, analyzer, completion, activity, f.CreateGuardrails(), tracer, rng, policy, f.logger)
	dispatcher := NewDispatcher(store, ledger, orchestrator, tracer, rng, f.cfg.Dispatch.MaxConcurrency, f.cfg.Dispatch.TaskTimeout, f.logger)

	store.OnCommit(func(ctx context.Context, post discourse.Post) {
		if !post.IsTopLevel() || post.Author.Kind != discourse.AuthorHuman {
			return
		}
		if _, err := dispatcher.Trigger(context.WithoutCancel(ctx), post.ID); err != nil {
			f.logger.Error().Err(err).Str("post_id", post.ID).Msg("Dispatch failed")
		}
	})

	rt.Store = store
	rt.Notifications = notifications
	rt.Orchestrator = orchestrator
	rt.Dispatcher = dispatcher
	return rt, nil
}

// CreatePolicy maps the llm and activity sections onto an orchestration policy.
func (f *Factory) CreatePolicy() Policy {
	policy := DefaultPolicy()
	policy.Defaults = discourse.Credentials{
		APIKey:  f.cfg.LLM.APIKey,
		BaseURL: f.cfg.LLM.BaseURL,
		Model:   f.cfg.LLM.Model,
	}
	policy.Retry = RetryPolicy{MaxAttempts: f.cfg.LLM.RetryAttempts, Backoff: f.cfg.LLM.RetryBackoff}
	if f.cfg.LLM.MaxTokenLength > 0 {
		policy.MaxTokenLength = f.cfg.LLM.MaxTokenLength
	}
	if f.cfg.Activity.ContextPosts > 0 {
		policy.ContextPosts = f.cfg.Activity.ContextPosts
	}
	if f.cfg.Activity.Window > 0 {
		policy.ContextWindow = f.cfg.Activity.Window
	}
	if f.cfg.Activity.SampleSize > 0 {
		policy.ContextSample = f.cfg.Activity.SampleSize
	}

	if policy.Retry.MaxAttempts < 1 {
		policy.Retry.MaxAttempts = 1
		f.logger.Warn().Int("retry_attempts", f.cfg.LLM.RetryAttempts).Msg("RetryAttempts clamped to minimum of 1")
	}
	return policy
}

// CreateActivityPolicy maps the activity section, keeping defaults for unset fields.
func (f *Factory) CreateActivityPolicy() ActivityPolicy {
	p := DefaultActivityPolicy()
	a := f.cfg.Activity
	if len(a.RecencyThresholds) > 0 {
		p.RecencyThresholds = a.RecencyThresholds
		p.RecencyPenalties = a.RecencyPenalties
	}
	if a.Window > 0 {
		p.Window = a.Window
	}
	if a.SampleSize > 0 {
		p.SampleSize = a.SampleSize
	}
	if a.ShareCap > 0 {
		p.ShareCap = a.ShareCap
	}
	return p
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	if !f.cfg.Harness.EnableGuardrails {
		return NewGuardrails(nil)
	}
	return NewGuardrails(f.cfg.Harness.BlockedWords)
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Harness.CacheEnabled {
		return &noOpCache{}
	}
	return adapters.NewLRUCache(f.cfg.Harness.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewTokenBucket(f.cfg.Harness.RateLimitCapacity, f.cfg.Harness.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createLedger() (ports.DispatchLedger, func() error, error) {
	switch f.cfg.Dispatch.Ledger {
	case "redis":
		l, err := adapters.NewRedisLedger(adapters.RedisConfig{
			Addr:     f.cfg.Redis.Addr,
			Password: f.cfg.Redis.Password,
			DB:       f.cfg.Redis.DB,
		}, f.cfg.Dispatch.LedgerTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis dispatch ledger: %w", err)
		}
		return l, l.Close, nil
	default:
		return adapters.NewMemoryLedger(f.cfg.Dispatch.LedgerTTL), nil, nil
	}
}

// noOpCache implements Cache interface with no-op behavior for testing/disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache       = (*noOpCache)(nil)
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
