package harnessports

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
)

// DiscourseStore owns post and persona persistence. Implementations return
// discourse.ErrNotFound (wrapped) for missing rows.
type DiscourseStore interface {
	GetPost(ctx context.Context, id string) (discourse.Post, error)
	CreatePost(ctx context.Context, in discourse.NewPost) (discourse.Post, error)
	// IncrementCounter must be atomic with respect to concurrent increments.
	IncrementCounter(ctx context.Context, postID string, counter discourse.Counter) error
	// ListRecentTopLevelPosts returns undeleted top-level posts created at or after since,
	// newest first.
	ListRecentTopLevelPosts(ctx context.Context, tenantID string, since time.Time, limit int) ([]discourse.Post, error)
	ListActivePersonas(ctx context.Context, tenantID string) ([]discourse.Persona, error)
	GetPersona(ctx context.Context, id string) (discourse.Persona, error)
	TouchPersona(ctx context.Context, personaID string, at time.Time) error
}

// NotificationSink delivers user-facing notifications. Delivery is fire-and-forget:
// implementations log failures and never report them to the caller.
type NotificationSink interface {
	Notify(ctx context.Context, profileID, event, message string)
}

// DispatchLedger records which (persona, post) pairs were already scheduled.
// Claim returns true only for the first caller of a pair.
type DispatchLedger interface {
	Claim(ctx context.Context, personaID, postID string) (bool, error)
}
