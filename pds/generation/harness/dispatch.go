package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/metrics"
)

// ErrDispatcherClosed is returned by Trigger after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Responder is the work a dispatched task performs.
type Responder interface {
	RespondToPost(ctx context.Context, persona discourse.Persona, ref PostRef) ([]discourse.Post, error)
}

// Selection is the outcome of one trigger.
type Selection struct {
	PostID     string
	PersonaIDs []string // sampled personas
	Scheduled  []string // sampled personas whose ledger claim succeeded
}

// Dispatcher fans a human top-level post out to a random subset of the tenant's active
// personas, one background task each.
type Dispatcher struct {
	store       ports.DiscourseStore
	ledger      ports.DispatchLedger
	responder   Responder
	tracer      ports.Tracer
	rng         Random
	taskTimeout time.Duration
	logger      zerolog.Logger

	sem    chan struct{}
	wg     conc.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher bounds concurrently running tasks at maxConcurrency (minimum 1). A zero
// taskTimeout leaves tasks unbounded apart from the completion client's own limits.
func NewDispatcher(store ports.DiscourseStore, ledger ports.DispatchLedger, responder Responder, tracer ports.Tracer, rng Random, maxConcurrency int, taskTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Dispatcher{
		store:       store,
		ledger:      ledger,
		responder:   responder,
		tracer:      tracer,
		rng:         rng,
		taskTimeout: taskTimeout,
		logger:      logger.With().Str("component", "dispatch").Logger(),
		sem:         make(chan struct{}, maxConcurrency),
	}
}

// Trigger selects between 1 and N of the tenant's N active personas and schedules one
// reply task per persona. Posts that are replies or written by personas select nobody.
// Tasks run detached from ctx and outlive the call.
func (d *Dispatcher) Trigger(ctx context.Context, postID string) (sel Selection, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return Selection{PostID: postID}, ErrDispatcherClosed
	}

	ctx, finish := d.tracer.StartSpan(ctx, "dispatch", map[string]any{"post_id": postID})
	defer func() { finish(err) }()

	sel = Selection{PostID: postID}
	post, err := d.store.GetPost(ctx, postID)
	if err != nil {
		return sel, fmt.Errorf("load post %s: %w", postID, err)
	}
	if !post.IsTopLevel() || post.Author.Kind != discourse.AuthorHuman || post.Deleted {
		d.logger.Debug().Str("post_id", postID).Str("author_kind", post.Author.Kind.String()).Msg("Post does not dispatch")
		return sel, nil
	}

	personas, err := d.store.ListActivePersonas(ctx, post.TenantID)
	if err != nil {
		return sel, fmt.Errorf("list personas for tenant %s: %w", post.TenantID, err)
	}
	active := personas[:0:0]
	for _, p := range personas {
		if p.Active {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		d.logger.Debug().Str("post_id", postID).Str("tenant", post.TenantID).Msg("No active personas")
		return sel, nil
	}

	for _, persona := range d.sample(active) {
		sel.PersonaIDs = append(sel.PersonaIDs, persona.ID)

		claimed, err := d.ledger.Claim(ctx, persona.ID, post.ID)
		if err != nil {
			d.logger.Error().Err(err).Str("persona", persona.Username).Str("post_id", postID).Msg("Ledger claim failed, not scheduling")
			continue
		}
		if !claimed {
			metrics.DuplicateClaims.Inc()
			d.logger.Info().Str("persona", persona.Username).Str("post_id", postID).Msg("Already dispatched")
			continue
		}

		d.schedule(context.WithoutCancel(ctx), persona, post)
		sel.Scheduled = append(sel.Scheduled, persona.ID)
	}

	d.logger.Info().
		Str("post_id", postID).
		Int("active", len(active)).
		Strs("selected", sel.PersonaIDs).
		Int("scheduled", len(sel.Scheduled)).
		Msg("Dispatched post")
	return sel, nil
}

// sample draws k uniform in [1, n] and returns k personas without replacement.
func (d *Dispatcher) sample(active []discourse.Persona) []discourse.Persona {
	n := len(active)
	k := 1 + d.rng.IntN(n)
	perm := d.rng.Perm(n)
	out := make([]discourse.Persona, k)
	for i := range k {
		out[i] = active[perm[i]]
	}
	return out
}

func (d *Dispatcher) schedule(ctx context.Context, persona discourse.Persona, post discourse.Post) {
	metrics.DispatchedTasks.Inc()
	d.wg.Go(func() {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		metrics.InFlightTasks.Inc()
		defer metrics.InFlightTasks.Dec()

		if d.taskTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
			defer cancel()
		}

		var pc panics.Catcher
		pc.Try(func() {
			if _, err := d.responder.RespondToPost(ctx, persona, LoadedPost(post)); err != nil {
				d.logger.Debug().Err(err).Str("persona", persona.Username).Str("post_id", post.ID).Msg("Reply task ended without a post")
			}
		})
		if r := pc.Recovered(); r != nil {
			d.logger.Error().
				Str("persona", persona.Username).
				Str("post_id", post.ID).
				Str("panic", r.String()).
				Msg("Reply task panicked")
		}
	})
}

// Wait blocks until every scheduled task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close rejects further triggers and drains running tasks.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
