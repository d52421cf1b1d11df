// Package scheduler periodically lets a random active persona write an original post.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
)

// PersonaSource lists candidate personas.
type PersonaSource interface {
	ListTenants(ctx context.Context) ([]string, error)
	ListActivePersonas(ctx context.Context, tenantID string) ([]discourse.Persona, error)
}

// Poster writes original posts.
type Poster interface {
	CreateOriginalPost(ctx context.Context, persona discourse.Persona, force bool) (string, error)
}

// Picker chooses an index in [0, n).
type Picker interface {
	IntN(n int) int
}

// Options configure a run.
type Options struct {
	TenantID string // empty picks from every tenant
	Force    bool   // bypass the activity heuristic
}

// Scheduler manages the cron job for original post generation.
type Scheduler struct {
	cron    *cron.Cron
	source  PersonaSource
	poster  Poster
	picker  Picker
	opts    Options
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler; nothing runs until Schedule and Start.
func NewScheduler(source PersonaSource, poster Poster, picker Picker, opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		source: source,
		poster: poster,
		picker: picker,
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule registers the generation job under a cron spec such as "@every 30m".
func (s *Scheduler) Schedule(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		// overlapping ticks are dropped while a run is still generating
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			s.logger.Debug().Msg("Previous run still in progress, skipping tick")
			return
		}
		s.running = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled post generation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce picks one active persona and asks it for an original post. It returns the new
// post ID, or "" when nobody is eligible or the persona chose to skip.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	tenants := []string{s.opts.TenantID}
	if s.opts.TenantID == "" {
		var err error
		if tenants, err = s.source.ListTenants(ctx); err != nil {
			return "", fmt.Errorf("list tenants: %w", err)
		}
	}

	var candidates []discourse.Persona
	for _, tenant := range tenants {
		personas, err := s.source.ListActivePersonas(ctx, tenant)
		if err != nil {
			return "", fmt.Errorf("list personas for tenant %s: %w", tenant, err)
		}
		candidates = append(candidates, personas...)
	}
	if len(candidates) == 0 {
		s.logger.Warn().Str("tenant", s.opts.TenantID).Msg("No active personas found")
		return "", nil
	}

	persona := candidates[s.picker.IntN(len(candidates))]
	s.logger.Info().Str("persona", persona.Username).Str("tenant", persona.TenantID).Bool("force", s.opts.Force).Msg("Generating original post")

	id, err := s.poster.CreateOriginalPost(ctx, persona, s.opts.Force)
	if err != nil {
		return "", err
	}
	if id == "" {
		s.logger.Info().Str("persona", persona.Username).Msg("Persona skipped posting")
	}
	return id, nil
}
