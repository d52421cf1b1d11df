package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

var testDefaults = discourse.Credentials{
	APIKey:  "test-key",
	BaseURL: "https://llm.test/v1",
	Model:   "test-model",
}

// StubProvider implements Provider for testing.
type StubProvider struct {
	chatFunc func(ctx context.Context, req ports.ChatRequest) (string, error)

	calls    atomic.Int32
	mu       sync.Mutex
	requests []ports.ChatRequest
}

func (p *StubProvider) ChatComplete(ctx context.Context, req ports.ChatRequest) (string, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.chatFunc != nil {
		return p.chatFunc(ctx, req)
	}
	return "stub completion", nil
}

func (p *StubProvider) Calls() int { return int(p.calls.Load()) }

// Requests returns the requests whose system turn is system.
func (p *StubProvider) Requests(system string) []ports.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ports.ChatRequest
	for _, r := range p.requests {
		if r.System == system {
			out = append(out, r)
		}
	}
	return out
}

// scriptedProvider answers analysis prompts with fixed signals and everything else
// with reply.
func scriptedProvider(reply string) *StubProvider {
	return &StubProvider{chatFunc: func(ctx context.Context, req ports.ChatRequest) (string, error) {
		switch req.System {
		case sentimentInstruction:
			return "positive", nil
		case keywordsInstruction:
			return "grill, weekend", nil
		}
		return reply, nil
	}}
}

func failingProvider(err error) *StubProvider {
	return &StubProvider{chatFunc: func(ctx context.Context, req ports.ChatRequest) (string, error) {
		return "", err
	}}
}

// stubStore is an in-memory DiscourseStore. ListActivePersonas returns inactive personas
// too so callers' own filtering is exercised.
type stubStore struct {
	mu       sync.Mutex
	posts    map[string]discourse.Post
	order    []string
	personas []discourse.Persona
	touched  map[string]time.Time
	seq      int

	listErr      error
	createErr    error
	incrementErr error
}

func newStubStore(personas ...discourse.Persona) *stubStore {
	return &stubStore{
		posts:    make(map[string]discourse.Post),
		personas: personas,
		touched:  make(map[string]time.Time),
	}
}

// seed stores p as is and returns it.
func (s *stubStore) seed(p discourse.Post) discourse.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		s.seq++
		p.ID = fmt.Sprintf("seed-%d", s.seq)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = testNow.Add(-time.Duration(len(s.order)+1) * time.Minute)
	}
	s.posts[p.ID] = p
	s.order = append(s.order, p.ID)
	return p
}

func (s *stubStore) GetPost(ctx context.Context, id string) (discourse.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return discourse.Post{}, fmt.Errorf("post %s: %w", id, discourse.ErrNotFound)
	}
	return p, nil
}

func (s *stubStore) CreatePost(ctx context.Context, in discourse.NewPost) (discourse.Post, error) {
	if s.createErr != nil {
		return discourse.Post{}, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := 0
	if in.ParentID != nil {
		parent, ok := s.posts[*in.ParentID]
		if !ok {
			return discourse.Post{}, discourse.ErrNotFound
		}
		depth = parent.Depth + 1
	}
	s.seq++
	p := discourse.Post{
		ID:             fmt.Sprintf("post-%d", s.seq),
		TenantID:       in.TenantID,
		Author:         in.Author,
		Content:        in.Content,
		ParentID:       in.ParentID,
		RepostSourceID: in.RepostSourceID,
		Depth:          depth,
		Flagged:        in.Flagged,
		CreatedAt:      testNow,
	}
	s.posts[p.ID] = p
	s.order = append(s.order, p.ID)
	return p, nil
}

func (s *stubStore) IncrementCounter(ctx context.Context, postID string, counter discourse.Counter) error {
	if s.incrementErr != nil {
		return s.incrementErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return discourse.ErrNotFound
	}
	switch counter {
	case discourse.CounterReplies:
		p.NumReplies++
	case discourse.CounterLikes:
		p.NumLikes++
	case discourse.CounterShares:
		p.NumShares++
	}
	s.posts[postID] = p
	return nil
}

func (s *stubStore) ListRecentTopLevelPosts(ctx context.Context, tenantID string, since time.Time, limit int) ([]discourse.Post, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discourse.Post
	for _, id := range s.order {
		p := s.posts[id]
		if p.TenantID == tenantID && p.IsTopLevel() && !p.Deleted && !p.CreatedAt.Before(since) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubStore) ListActivePersonas(ctx context.Context, tenantID string) ([]discourse.Persona, error) {
	var out []discourse.Persona
	for _, p := range s.personas {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) GetPersona(ctx context.Context, id string) (discourse.Persona, error) {
	for _, p := range s.personas {
		if p.ID == id {
			return p, nil
		}
	}
	return discourse.Persona{}, discourse.ErrNotFound
}

func (s *stubStore) TouchPersona(ctx context.Context, personaID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[personaID] = at
	return nil
}

func (s *stubStore) created() []discourse.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discourse.Post
	for _, id := range s.order {
		if p := s.posts[id]; p.CreatedAt.Equal(testNow) {
			out = append(out, p)
		}
	}
	return out
}

func (s *stubStore) post(id string) discourse.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[id]
}

type notification struct {
	ProfileID, Event, Message string
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *stubNotifier) Notify(ctx context.Context, profileID, event, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{profileID, event, message})
}

func (n *stubNotifier) Sent() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

// seqRandom replays fixed draws; once a sequence runs out its last value repeats.
type seqRandom struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	perm   []int
}

func (r *seqRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[0]
	if len(r.floats) > 1 {
		r.floats = r.floats[1:]
	}
	return v
}

func (r *seqRandom) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	if len(r.ints) > 1 {
		r.ints = r.ints[1:]
	}
	return min(v, n-1)
}

func (r *seqRandom) Perm(n int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.perm) == n {
		return append([]int(nil), r.perm...)
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func testPersona(name, tenant string) discourse.Persona {
	return discourse.Persona{
		ID:        "persona-" + name,
		ProfileID: "profile-" + name,
		Username:  name,
		TenantID:  tenant,
		Voice:     "A dad who loves puns and grilling.",
		Active:    true,
	}
}

func humanPost(store *stubStore, tenant, username, content string) discourse.Post {
	return store.seed(discourse.Post{
		TenantID: tenant,
		Author:   discourse.HumanAuthor("profile-"+username, username),
		Content:  content,
	})
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.Defaults = testDefaults
	return p
}

func newTestCompletion(provider ports.Provider) *CompletionClient {
	return NewCompletionClient(provider, &noOpRateLimiter{}, &noOpTracer{}, zerolog.Nop(), 0, 0)
}

type orchestratorDeps struct {
	store      *stubStore
	provider   *StubProvider
	notifier   *stubNotifier
	rng        Random
	policy     Policy
	guardrails *Guardrails
}

func newTestOrchestrator(t *testing.T, d orchestratorDeps) *Orchestrator {
	t.Helper()
	if d.notifier == nil {
		d.notifier = &stubNotifier{}
	}
	if d.rng == nil {
		d.rng = &seqRandom{}
	}
	if d.policy.MaxTokenLength == 0 {
		d.policy = testPolicy()
	}
	if d.guardrails == nil {
		d.guardrails = NewGuardrails(nil)
	}
	logger := zerolog.Nop()
	completion := newTestCompletion(d.provider)
	analyzer := NewContextAnalyzer(d.store, completion, &noOpCache{}, 0, d.policy.Defaults, logger)
	activity := NewActivityHeuristic(d.store, DefaultActivityPolicy(), d.rng, logger)
	o := NewOrchestrator(d.store, d.notifier, analyzer, completion, activity, d.guardrails, &noOpTracer{}, d.rng, d.policy, logger)
	o.now = func() time.Time { return testNow }
	return o
}

var (
	_ ports.Provider         = (*StubProvider)(nil)
	_ ports.DiscourseStore   = (*stubStore)(nil)
	_ ports.NotificationSink = (*stubNotifier)(nil)
	_ Random                 = (*seqRandom)(nil)
)
