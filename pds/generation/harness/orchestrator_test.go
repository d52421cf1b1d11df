package harness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

func TestOrchestrator_RespondToPost(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "Firing up the grill this weekend")
	provider := scriptedProvider(`"Interesting point!"`)
	notifier := &stubNotifier{}
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider, notifier: notifier})

	replies, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))
	require.NoError(t, err)
	require.Len(t, replies, 1)

	reply := replies[0]
	assert.Equal(t, "Interesting point!", reply.Content)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, post.ID, *reply.ParentID)
	assert.Equal(t, 1, reply.Depth)
	assert.Equal(t, "public", reply.TenantID)
	assert.Equal(t, persona.Author(), reply.Author)
	assert.False(t, reply.Flagged)

	assert.Equal(t, 1, store.post(post.ID).NumReplies)
	assert.Equal(t, []notification{{
		ProfileID: "profile-alice",
		Event:     discourse.EventPostReplied,
		Message:   "@DadBot replied to your post",
	}}, notifier.Sent())

	reqs := provider.Requests(DefaultSystemPrompt)
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasPrefix(reqs[0].User, "You are DadBot. A dad who loves puns and grilling."))
	assert.Contains(t, reqs[0].User, "- Sentiment: positive")
	assert.Contains(t, reqs[0].User, "- Keywords: grill, weekend")
}

func TestOrchestrator_ReplyDepthFollowsParent(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	root := humanPost(store, "public", "alice", "root")
	rootID := root.ID
	nested := store.seed(discourse.Post{
		TenantID: "public",
		Author:   discourse.HumanAuthor("profile-bob", "bob"),
		Content:  "nested",
		ParentID: &rootID,
		Depth:    1,
	})
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: scriptedProvider("deeper")})

	replies, err := o.RespondToPost(context.Background(), persona, LoadedPost(nested))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, nested.Depth+1, replies[0].Depth)
}

func TestOrchestrator_RespondFailureWritesNothing(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "hello")
	notifier := &stubNotifier{}
	provider := failingProvider(&ports.UpstreamError{StatusCode: 502, Err: errors.New("bad gateway")})
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider, notifier: notifier})

	replies, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))

	assert.ErrorIs(t, err, ErrCompletionExhausted)
	assert.Empty(t, replies)
	assert.Empty(t, store.created())
	assert.Zero(t, store.post(post.ID).NumReplies)
	assert.Empty(t, notifier.Sent())
	// two analysis calls plus three reply attempts
	assert.Equal(t, 5, provider.Calls())
}

func TestOrchestrator_RespondStoreFailure(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "hello")
	store.createErr = errors.New("disk full")
	notifier := &stubNotifier{}
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: scriptedProvider("hi"), notifier: notifier})

	_, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))

	assert.Error(t, err)
	assert.Zero(t, store.post(post.ID).NumReplies)
	assert.Empty(t, notifier.Sent())
}

func TestOrchestrator_NoSelfNotification(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	own := store.seed(discourse.Post{
		TenantID: "public",
		Author:   discourse.HumanAuthor(persona.ProfileID, persona.Username),
		Content:  "talking to myself",
	})
	notifier := &stubNotifier{}
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: scriptedProvider("indeed"), notifier: notifier})

	replies, err := o.RespondToPost(context.Background(), persona, PostByID(own.ID))
	require.NoError(t, err)
	assert.Len(t, replies, 1)
	assert.Empty(t, notifier.Sent())
}

func TestOrchestrator_MissingOrDeletedPostSkips(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	deleted := humanPost(store, "public", "alice", "oops")
	deleted.Deleted = true
	provider := scriptedProvider("never")
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider})

	for _, ref := range []PostRef{PostByID("nope"), PostByID(""), LoadedPost(deleted)} {
		replies, err := o.RespondToPost(context.Background(), persona, ref)
		assert.NoError(t, err)
		assert.Empty(t, replies)
	}
	assert.Zero(t, provider.Calls())
}

func TestOrchestrator_InvalidPersona(t *testing.T) {
	persona := testPersona("DadBot", "public")
	persona.ProfileID = ""
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "hello")
	provider := scriptedProvider("never")
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider})

	_, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))
	assert.ErrorIs(t, err, ErrInvalidPersona)
	assert.Zero(t, provider.Calls())
}

func TestOrchestrator_FlagsBlockedReply(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "hello")
	o := newTestOrchestrator(t, orchestratorDeps{
		store:      store,
		provider:   scriptedProvider("Grill time!"),
		guardrails: NewGuardrails([]string{"grill"}),
	})

	replies, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.True(t, replies[0].Flagged)
	assert.Equal(t, "Grill time!", replies[0].Content)
}

func TestOrchestrator_CounterFailureKeepsReply(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "hello")
	store.incrementErr = errors.New("locked")
	notifier := &stubNotifier{}
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: scriptedProvider("hi"), notifier: notifier})

	replies, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))
	require.NoError(t, err)
	assert.Len(t, replies, 1)
	assert.Len(t, notifier.Sent(), 1)
}

func TestOrchestrator_CreateOriginalPostSkips(t *testing.T) {
	persona := testPersona("DadBot", "public")
	persona.LastPostAt = ago(10 * time.Minute)
	store := newStubStore(persona)
	provider := scriptedProvider("never")
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider, rng: &seqRandom{floats: []float64{0.5}}})

	id, err := o.CreateOriginalPost(context.Background(), persona, false)

	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, provider.Calls(), "skipping never calls the model")
	assert.Empty(t, store.created())
}

func TestOrchestrator_CreateOriginalPostForced(t *testing.T) {
	persona := testPersona("DadBot", "public")
	persona.LastPostAt = ago(10 * time.Minute)
	store := newStubStore(persona)
	provider := scriptedProvider(`"Why did the burger blush? It saw the salad dressing."`)
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider, rng: &seqRandom{floats: []float64{0.5}}})

	id, err := o.CreateOriginalPost(context.Background(), persona, true)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	post := store.post(id)
	assert.True(t, post.IsTopLevel())
	assert.Zero(t, post.Depth)
	assert.Equal(t, "public", post.TenantID)
	assert.Equal(t, persona.Author(), post.Author)
	assert.Equal(t, "Why did the burger blush? It saw the salad dressing.", post.Content)
	assert.Equal(t, testNow, store.touched[persona.ID])

	reqs := provider.Requests(OriginalPostSystemPrompt)
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].User, "You are DadBot, with the following persona:")
}

func TestOrchestrator_OriginalPostGrounding(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	store.seed(personaPost(persona, "my own joke"))
	humanPost(store, "public", "alice", "Coffee first")
	humanPost(store, "public", "bob", "Rain again")
	humanPost(store, "other", "carol", "Elsewhere")
	provider := scriptedProvider("A fresh take")

	policy := testPolicy()
	policy.ContextPosts = 1
	// a high draw clears the persona's share penalty so the heuristic lets it post
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: provider, policy: policy, rng: &seqRandom{floats: []float64{0.99}}})

	id, err := o.CreateOriginalPost(context.Background(), persona, false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	reqs := provider.Requests(OriginalPostSystemPrompt)
	require.Len(t, reqs, 1)
	prompt := reqs[0].User
	assert.Contains(t, prompt, "1. @alice: \"Coffee first\"")
	assert.NotContains(t, prompt, "Rain again", "grounding is capped")
	assert.NotContains(t, prompt, "my own joke")
	assert.NotContains(t, prompt, "Elsewhere")
}

func TestOrchestrator_OriginalPostFailure(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: failingProvider(errors.New("refused"))})

	id, err := o.CreateOriginalPost(context.Background(), persona, true)

	assert.ErrorIs(t, err, ErrCompletionExhausted)
	assert.Empty(t, id)
	assert.Empty(t, store.created())
	assert.NotContains(t, store.touched, persona.ID)
}

func TestOrchestrator_RedactedContentStaysWithinLimit(t *testing.T) {
	persona := testPersona("DadBot", "public")
	store := newStubStore(persona)
	post := humanPost(store, "public", "alice", "What's your setup?")
	// redaction turns the 8-character secret into a 10-character marker
	generated := strings.Repeat("a", 271) + " secret:x"
	require.Len(t, generated, 280)
	o := newTestOrchestrator(t, orchestratorDeps{store: store, provider: scriptedProvider(generated)})

	replies, err := o.RespondToPost(context.Background(), persona, PostByID(post.ID))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.LessOrEqual(t, len([]rune(replies[0].Content)), DefaultMaxContentLength)
	assert.NotContains(t, replies[0].Content, "secret:x")

	id, err := o.CreateOriginalPost(context.Background(), persona, true)
	require.NoError(t, err)
	original := store.post(id)
	assert.LessOrEqual(t, len([]rune(original.Content)), DefaultMaxContentLength)
	assert.NotContains(t, original.Content, "secret:x")
}
