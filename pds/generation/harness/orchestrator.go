package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/metrics"
)

// Outcome is the terminal state of one persona task.
type Outcome string

const (
	OutcomeSkip   Outcome = "skip"
	OutcomeFailed Outcome = "failed"
	OutcomePosted Outcome = "posted"
)

// Task states reported on the tracer between PENDING and a terminal Outcome.
const (
	stateAnalyzing  = "analyzing"
	stateGenerating = "generating"
)

const (
	opRespond  = "respond_to_post"
	opOriginal = "create_original_post"
)

// PostRef names the post to respond to, either loaded or by ID.
type PostRef struct {
	Post *discourse.Post
	ID   string
}

// PostByID references a post that still has to be loaded.
func PostByID(id string) PostRef { return PostRef{ID: id} }

// LoadedPost references a post the caller already holds.
func LoadedPost(p discourse.Post) PostRef { return PostRef{Post: &p, ID: p.ID} }

// Policy controls orchestration behavior.
type Policy struct {
	Defaults       discourse.Credentials // process-wide credentials personas fall back to
	Retry          RetryPolicy
	MaxTokenLength int           // working memory cap
	ContextPosts   int           // grounding posts for original posts
	ContextWindow  time.Duration // how far back grounding posts are taken from
	ContextSample  int           // recent posts scanned for grounding
	Lengths        []LengthCategory
}

// DefaultPolicy returns the stock orchestration policy.
func DefaultPolicy() Policy {
	return Policy{
		Retry:          DefaultRetryPolicy(),
		MaxTokenLength: DefaultMaxTokenLength,
		ContextPosts:   10,
		ContextWindow:  24 * time.Hour,
		ContextSample:  20,
		Lengths:        DefaultLengthDistribution,
	}
}

// Orchestrator turns a persona and a trigger into at most one new post.
type Orchestrator struct {
	store      ports.DiscourseStore
	notifier   ports.NotificationSink
	analyzer   *ContextAnalyzer
	completion *CompletionClient
	activity   *ActivityHeuristic
	guardrails *Guardrails
	tracer     ports.Tracer
	rng        Random
	now        func() time.Time
	policy     Policy
	logger     zerolog.Logger
}

// NewOrchestrator creates a new orchestrator with dependencies.
func NewOrchestrator(
	store ports.DiscourseStore,
	notifier ports.NotificationSink,
	analyzer *ContextAnalyzer,
	completion *CompletionClient,
	activity *ActivityHeuristic,
	guardrails *Guardrails,
	tracer ports.Tracer,
	rng Random,
	policy Policy,
	logger zerolog.Logger,
) *Orchestrator {
	if len(policy.Lengths) == 0 {
		policy.Lengths = DefaultLengthDistribution
	}
	return &Orchestrator{
		store:      store,
		notifier:   notifier,
		analyzer:   analyzer,
		completion: completion,
		activity:   activity,
		guardrails: guardrails,
		tracer:     tracer,
		rng:        rng,
		now:        time.Now,
		policy:     policy,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// RespondToPost writes persona's reply to the referenced post. A missing or deleted post
// yields an empty result and no error. On any failure nothing is written, no counter
// changes and nobody is notified.
func (o *Orchestrator) RespondToPost(ctx context.Context, persona discourse.Persona, ref PostRef) (replies []discourse.Post, err error) {
	log := o.logger.With().Str("persona", persona.Username).Str("post_id", ref.ID).Logger()
	ctx, finish := o.tracer.StartSpan(ctx, opRespond, map[string]any{
		"persona": persona.Username,
		"post_id": ref.ID,
	})
	outcome := OutcomeFailed
	defer func() {
		o.finish(ctx, opRespond, outcome)
		finish(err)
	}()

	cfg, err := NewPersonaConfig(persona, o.policy.Defaults, o.policy.Retry, o.policy.MaxTokenLength)
	if err != nil {
		log.Error().Err(err).Msg("Persona configuration rejected")
		return nil, err
	}

	post, err := o.resolve(ctx, ref)
	if errors.Is(err, discourse.ErrNotFound) {
		log.Warn().Msg("Post to respond to not found")
		outcome = OutcomeSkip
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("Could not load post")
		return nil, err
	}

	o.tracer.Event(ctx, "state", map[string]any{"state": stateAnalyzing})
	pc := o.analyzer.Analyze(ctx, post)

	mem, err := NewMemoryBuffer(o.policy.MaxTokenLength, cfg.Objective)
	if err != nil {
		log.Error().Err(err).Msg("Could not create working memory")
		return nil, err
	}
	mem.Append(ReplyPrompt(persona, post, pc))

	o.tracer.Event(ctx, "state", map[string]any{"state": stateGenerating, "tokens": mem.Tokens()})
	text, err := o.completion.Complete(ctx, mem.String(), cfg)
	if err != nil {
		log.Error().Err(err).Msg("No reply generated")
		return nil, err
	}

	content, flagged := o.screen(text)
	in := discourse.Reply(post, persona.Author(), content)
	in.Flagged = flagged

	reply, err := o.store.CreatePost(ctx, in)
	if err != nil {
		log.Error().Err(err).Msg("Could not store reply")
		return nil, fmt.Errorf("create reply: %w", err)
	}
	outcome = OutcomePosted

	if err := o.store.IncrementCounter(ctx, post.ID, discourse.CounterReplies); err != nil {
		log.Error().Err(err).Str("reply_id", reply.ID).Msg("Could not increment reply counter")
	}

	if !persona.Author().SameProfile(post.Author) {
		o.notifier.Notify(ctx, post.Author.ProfileID, discourse.EventPostReplied,
			fmt.Sprintf("@%s replied to your post", persona.Username))
	}

	log.Info().Str("reply_id", reply.ID).Bool("flagged", flagged).Msg("Persona replied")
	return []discourse.Post{reply}, nil
}

// CreateOriginalPost writes a new top-level post for persona and returns its ID. Unless
// force is set the activity heuristic may skip, in which case no completion is
// requested and the result is "" with a nil error.
func (o *Orchestrator) CreateOriginalPost(ctx context.Context, persona discourse.Persona, force bool) (postID string, err error) {
	log := o.logger.With().Str("persona", persona.Username).Str("tenant", persona.TenantID).Logger()
	ctx, finish := o.tracer.StartSpan(ctx, opOriginal, map[string]any{
		"persona": persona.Username,
		"force":   force,
	})
	outcome := OutcomeFailed
	defer func() {
		o.finish(ctx, opOriginal, outcome)
		finish(err)
	}()

	cfg, err := NewPersonaConfig(persona, o.policy.Defaults, o.policy.Retry, o.policy.MaxTokenLength)
	if err != nil {
		log.Error().Err(err).Msg("Persona configuration rejected")
		return "", err
	}

	now := o.now()
	if !force && !o.activity.ShouldAct(ctx, persona, now) {
		log.Info().Msg("Post generation skipped by activity heuristic")
		outcome = OutcomeSkip
		return "", nil
	}

	o.tracer.Event(ctx, "state", map[string]any{"state": stateAnalyzing})
	recent := o.grounding(ctx, persona, now)
	length := SampleLength(o.rng, o.policy.Lengths)

	o.tracer.Event(ctx, "state", map[string]any{"state": stateGenerating, "length": length.Name, "target": length.Target})
	text, err := o.completion.CompleteRaw(ctx, OriginalPostSystemPrompt, OriginalPostPrompt(persona, recent, length), cfg)
	if err != nil {
		log.Error().Err(err).Msg("No post generated")
		return "", err
	}

	content, flagged := o.screen(text)
	in := discourse.TopLevel(persona.TenantID, persona.Author(), content)
	in.Flagged = flagged

	post, err := o.store.CreatePost(ctx, in)
	if err != nil {
		log.Error().Err(err).Msg("Could not store post")
		return "", fmt.Errorf("create post: %w", err)
	}
	outcome = OutcomePosted

	if err := o.store.TouchPersona(ctx, persona.ID, now); err != nil {
		log.Error().Err(err).Str("post_id", post.ID).Msg("Could not record last post time")
	}

	log.Info().
		Str("post_id", post.ID).
		Int("length", len([]rune(content))).
		Int("target", length.Target).
		Bool("flagged", flagged).
		Msg("Persona posted")
	return post.ID, nil
}

// screen redacts and flags generated text. Redaction can lengthen it, so the length cap
// is applied again.
func (o *Orchestrator) screen(text string) (string, bool) {
	content, flagged := o.guardrails.Screen(text)
	return Normalize(content, o.completion.maxLength), flagged
}

func (o *Orchestrator) resolve(ctx context.Context, ref PostRef) (discourse.Post, error) {
	post := ref.Post
	if post == nil {
		if ref.ID == "" {
			return discourse.Post{}, fmt.Errorf("empty post reference: %w", discourse.ErrNotFound)
		}
		loaded, err := o.store.GetPost(ctx, ref.ID)
		if err != nil {
			return discourse.Post{}, err
		}
		post = &loaded
	}
	if post.Deleted {
		return discourse.Post{}, fmt.Errorf("post %s is deleted: %w", post.ID, discourse.ErrNotFound)
	}
	return *post, nil
}

// grounding collects recent top-level posts of the tenant not written by persona.
func (o *Orchestrator) grounding(ctx context.Context, persona discourse.Persona, now time.Time) []discourse.Post {
	posts, err := o.store.ListRecentTopLevelPosts(ctx, persona.TenantID, now.Add(-o.policy.ContextWindow), o.policy.ContextSample)
	if err != nil {
		o.logger.Warn().Err(err).Str("persona", persona.Username).Msg("Could not load grounding posts")
		return nil
	}
	out := make([]discourse.Post, 0, o.policy.ContextPosts)
	for _, p := range posts {
		if len(out) == o.policy.ContextPosts {
			break
		}
		if p.Author.ProfileID == persona.ProfileID {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (o *Orchestrator) finish(ctx context.Context, op string, outcome Outcome) {
	metrics.TaskOutcomes.WithLabelValues(op, string(outcome)).Inc()
	o.tracer.Event(ctx, "outcome", map[string]any{"operation": op, "outcome": string(outcome)})
}
