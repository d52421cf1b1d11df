package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// ActivityPolicy holds the tunables of the posting backoff.
type ActivityPolicy struct {
	RecencyThresholds []time.Duration // ascending
	RecencyPenalties  []float64       // penalty for a last post younger than the matching threshold
	Window            time.Duration   // how far back traffic share is measured
	SampleSize        int             // most recent top-level posts considered
	ShareCap          float64         // upper bound of the traffic-share penalty
}

// DefaultActivityPolicy is +0.8 under 1h, +0.5 under 4h, +0.3 under 8h and a traffic share
// capped at 0.7 over the last 20 posts of the last 24h.
func DefaultActivityPolicy() ActivityPolicy {
	return ActivityPolicy{
		RecencyThresholds: []time.Duration{time.Hour, 4 * time.Hour, 8 * time.Hour},
		RecencyPenalties:  []float64{0.8, 0.5, 0.3},
		Window:            24 * time.Hour,
		SampleSize:        20,
		ShareCap:          0.7,
	}
}

// Validate checks the thresholds and penalties line up.
func (p ActivityPolicy) Validate() error {
	if len(p.RecencyThresholds) != len(p.RecencyPenalties) {
		return fmt.Errorf("activity policy has %d thresholds but %d penalties", len(p.RecencyThresholds), len(p.RecencyPenalties))
	}
	for i := 1; i < len(p.RecencyThresholds); i++ {
		if p.RecencyThresholds[i] <= p.RecencyThresholds[i-1] {
			return fmt.Errorf("activity policy thresholds must be ascending")
		}
	}
	return nil
}

// RecencyPenalty is the penalty for a persona whose last original post was at lastPost.
// A nil lastPost carries no penalty.
func (p ActivityPolicy) RecencyPenalty(lastPost *time.Time, now time.Time) float64 {
	if lastPost == nil {
		return 0
	}
	age := now.Sub(*lastPost)
	for i, threshold := range p.RecencyThresholds {
		if age < threshold {
			return p.RecencyPenalties[i]
		}
	}
	return 0
}

// SharePenalty is min(ShareCap, own/total); zero when there is no traffic.
func (p ActivityPolicy) SharePenalty(own, total int) float64 {
	if total <= 0 {
		return 0
	}
	return min(p.ShareCap, float64(own)/float64(total))
}

// ActivityHeuristic decides whether a persona should post now.
type ActivityHeuristic struct {
	store  ports.DiscourseStore
	policy ActivityPolicy
	rng    Random
	logger zerolog.Logger
}

// NewActivityHeuristic panics on an inconsistent policy; config validation rejects those
// earlier.
func NewActivityHeuristic(store ports.DiscourseStore, policy ActivityPolicy, rng Random, logger zerolog.Logger) *ActivityHeuristic {
	if err := policy.Validate(); err != nil {
		panic(err)
	}
	return &ActivityHeuristic{
		store:  store,
		policy: policy,
		rng:    rng,
		logger: logger.With().Str("component", "activity").Logger(),
	}
}

// SkipProbability combines the recency penalty with the persona's share of recent
// top-level traffic in its tenant. A store failure counts as zero share.
func (h *ActivityHeuristic) SkipProbability(ctx context.Context, persona discourse.Persona, now time.Time) float64 {
	skip := h.policy.RecencyPenalty(persona.LastPostAt, now)

	posts, err := h.store.ListRecentTopLevelPosts(ctx, persona.TenantID, now.Add(-h.policy.Window), h.policy.SampleSize)
	if err != nil {
		h.logger.Warn().Err(err).Str("persona", persona.Username).Msg("Could not load recent traffic, assuming no share")
		return skip
	}

	own := 0
	for _, post := range posts {
		if post.Author.IsPersona() && post.Author.ProfileID == persona.ProfileID {
			own++
		}
	}
	return skip + h.policy.SharePenalty(own, len(posts))
}

// ShouldAct draws once against SkipProbability.
func (h *ActivityHeuristic) ShouldAct(ctx context.Context, persona discourse.Persona, now time.Time) bool {
	skip := h.SkipProbability(ctx, persona, now)
	draw := h.rng.Float64()
	act := draw >= skip

	h.logger.Debug().
		Str("persona", persona.Username).
		Float64("skip_probability", skip).
		Float64("draw", draw).
		Bool("act", act).
		Msg("Activity decision")
	return act
}
