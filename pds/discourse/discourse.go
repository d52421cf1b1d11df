// Package discourse defines the entities of the discourse graph: personas, posts and the
// authors behind them. Persistence lives behind harnessports.DiscourseStore.
package discourse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by stores when a referenced post, persona or tenant is missing.
var ErrNotFound = errors.New("not found")

// AuthorKind distinguishes human participants from automated personas.
type AuthorKind int

const (
	AuthorHuman AuthorKind = iota + 1
	AuthorPersona
)

func (k AuthorKind) String() string {
	switch k {
	case AuthorHuman:
		return "human"
	case AuthorPersona:
		return "persona"
	default:
		return "unknown"
	}
}

// ParseAuthorKind is the inverse of AuthorKind.String.
func ParseAuthorKind(s string) (AuthorKind, error) {
	switch strings.ToLower(s) {
	case "human":
		return AuthorHuman, nil
	case "persona":
		return AuthorPersona, nil
	default:
		return 0, fmt.Errorf("unknown author kind %q", s)
	}
}

// Author references the profile that wrote a post. PersonaID is only set for AuthorPersona.
type Author struct {
	Kind      AuthorKind
	ProfileID string
	Username  string
	PersonaID string
}

// HumanAuthor builds a human author reference.
func HumanAuthor(profileID, username string) Author {
	return Author{Kind: AuthorHuman, ProfileID: profileID, Username: username}
}

// IsPersona reports whether the author is an automated persona.
func (a Author) IsPersona() bool { return a.Kind == AuthorPersona }

// SameProfile reports whether both references point at the same profile.
func (a Author) SameProfile(other Author) bool {
	return a.ProfileID != "" && a.ProfileID == other.ProfileID
}

// Credentials are optional per-persona LLM connection overrides. Empty fields fall back
// to process defaults.
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Merge returns c with empty fields filled from defaults.
func (c Credentials) Merge(defaults Credentials) Credentials {
	out := c
	if out.APIKey == "" {
		out.APIKey = defaults.APIKey
	}
	if out.BaseURL == "" {
		out.BaseURL = defaults.BaseURL
	}
	if out.Model == "" {
		out.Model = defaults.Model
	}
	return out
}

// Persona is an automated participant with a fixed voice.
type Persona struct {
	ID          string
	ProfileID   string
	Username    string
	TenantID    string
	Voice       string
	Active      bool
	Credentials Credentials
	LastPostAt  *time.Time
}

// Objective is the identity instruction pinned at the head of every working memory.
func (p Persona) Objective() string {
	return fmt.Sprintf("You are %s. %s", p.Username, p.Voice)
}

// Author returns the author reference used for posts written by this persona.
func (p Persona) Author() Author {
	return Author{Kind: AuthorPersona, ProfileID: p.ProfileID, Username: p.Username, PersonaID: p.ID}
}

// Counter names a mutable post counter.
type Counter string

const (
	CounterReplies Counter = "num_replies"
	CounterLikes   Counter = "num_likes"
	CounterShares  Counter = "num_shares"
)

// Valid reports whether c is one of the known counters.
func (c Counter) Valid() bool {
	switch c {
	case CounterReplies, CounterLikes, CounterShares:
		return true
	}
	return false
}

// Post is a node in the discourse graph. Posts are immutable apart from counters and flags.
type Post struct {
	ID             string
	TenantID       string
	Author         Author
	Content        string
	ParentID       *string
	RepostSourceID *string
	Depth          int
	NumReplies     int
	NumLikes       int
	NumShares      int
	Deleted        bool
	Flagged        bool
	CreatedAt      time.Time
}

// IsTopLevel reports whether the post has no parent.
func (p Post) IsTopLevel() bool { return p.ParentID == nil }

// IsRepost reports whether the post wraps another post.
func (p Post) IsRepost() bool { return p.RepostSourceID != nil && *p.RepostSourceID != "" }

// NewPost is the input for creating a post.
type NewPost struct {
	TenantID       string
	Author         Author
	Content        string
	ParentID       *string
	RepostSourceID *string
	Depth          int
	Flagged        bool
}

// Reply builds the NewPost for a reply from author to parent. Depth is always parent+1.
func Reply(parent Post, author Author, content string) NewPost {
	id := parent.ID
	return NewPost{
		TenantID: parent.TenantID,
		Author:   author,
		Content:  content,
		ParentID: &id,
		Depth:    parent.Depth + 1,
	}
}

// TopLevel builds the NewPost for an original post.
func TopLevel(tenantID string, author Author, content string) NewPost {
	return NewPost{TenantID: tenantID, Author: author, Content: content, Depth: 0}
}

// Notification event kinds.
const (
	EventPostReplied = "post_replied"
)

// Notification is a message delivered to a profile.
type Notification struct {
	ID        string
	ProfileID string
	Event     string
	Message   string
	Read      bool
	CreatedAt time.Time
}
