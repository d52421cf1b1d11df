package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// CommitHook runs after a post's creating transaction committed.
type CommitHook func(ctx context.Context, post discourse.Post)

// LibSQLStore implements DiscourseStore on the schema in pds/db/migrations.
type LibSQLStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time

	hooksMu sync.RWMutex
	hooks   []CommitHook
}

// NewLibSQLStore creates a new LibSQL discourse store.
func NewLibSQLStore(db *sql.DB, logger zerolog.Logger) *LibSQLStore {
	return &LibSQLStore{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    time.Now,
	}
}

// OnCommit registers a hook invoked for every post once its transaction committed.
func (s *LibSQLStore) OnCommit(hook CommitHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

const postColumns = `id, tenant_id, author_kind, author_profile, author_username, author_persona, content,
	parent_id, repost_source_id, depth, num_replies, num_likes, num_shares, is_deleted, is_flagged, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (discourse.Post, error) {
	var (
		p                  discourse.Post
		kind               string
		parent, repost     sql.NullString
		deleted, flagged   bool
		createdAtUnixNanos int64
	)
	err := row.Scan(&p.ID, &p.TenantID, &kind, &p.Author.ProfileID, &p.Author.Username, &p.Author.PersonaID, &p.Content,
		&parent, &repost, &p.Depth, &p.NumReplies, &p.NumLikes, &p.NumShares, &deleted, &flagged, &createdAtUnixNanos)
	if err != nil {
		return discourse.Post{}, err
	}
	if p.Author.Kind, err = discourse.ParseAuthorKind(kind); err != nil {
		return discourse.Post{}, err
	}
	if parent.Valid {
		p.ParentID = &parent.String
	}
	if repost.Valid {
		p.RepostSourceID = &repost.String
	}
	p.Deleted = deleted
	p.Flagged = flagged
	p.CreatedAt = time.Unix(0, createdAtUnixNanos)
	return p, nil
}

// GetPost loads a post by ID, including soft-deleted ones.
func (s *LibSQLStore) GetPost(ctx context.Context, id string) (discourse.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return discourse.Post{}, fmt.Errorf("post %s: %w", id, discourse.ErrNotFound)
	}
	if err != nil {
		return discourse.Post{}, fmt.Errorf("failed to load post %s: %w", id, err)
	}
	return p, nil
}

// CreatePost inserts a post in its own transaction and runs the commit hooks after the
// commit succeeded. Depth is derived from the stored parent.
func (s *LibSQLStore) CreatePost(ctx context.Context, in discourse.NewPost) (discourse.Post, error) {
	if in.Author.Kind != discourse.AuthorHuman && in.Author.Kind != discourse.AuthorPersona {
		return discourse.Post{}, fmt.Errorf("invalid author kind %d", in.Author.Kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return discourse.Post{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	depth := 0
	tenant := in.TenantID
	if in.ParentID != nil {
		var parentTenant string
		err := tx.QueryRowContext(ctx, `SELECT depth, tenant_id FROM posts WHERE id = ?`, *in.ParentID).Scan(&depth, &parentTenant)
		if errors.Is(err, sql.ErrNoRows) {
			return discourse.Post{}, fmt.Errorf("parent post %s: %w", *in.ParentID, discourse.ErrNotFound)
		}
		if err != nil {
			return discourse.Post{}, fmt.Errorf("failed to load parent post: %w", err)
		}
		depth++
		if tenant == "" {
			tenant = parentTenant
		}
	}

	post := discourse.Post{
		ID:             uuid.NewString(),
		TenantID:       tenant,
		Author:         in.Author,
		Content:        in.Content,
		ParentID:       in.ParentID,
		RepostSourceID: in.RepostSourceID,
		Depth:          depth,
		Flagged:        in.Flagged,
		CreatedAt:      s.now(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, tenant_id, author_kind, author_profile, author_username, author_persona, content,
			parent_id, repost_source_id, depth, is_flagged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.TenantID, post.Author.Kind.String(), post.Author.ProfileID, post.Author.Username, post.Author.PersonaID,
		post.Content, nullable(post.ParentID), nullable(post.RepostSourceID), post.Depth, boolInt(post.Flagged), post.CreatedAt.UnixNano())
	if err != nil {
		return discourse.Post{}, fmt.Errorf("failed to insert post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return discourse.Post{}, fmt.Errorf("failed to commit post: %w", err)
	}

	s.hooksMu.RLock()
	hooks := append([]CommitHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, post)
	}
	return post, nil
}

// IncrementCounter bumps a counter in a single UPDATE so concurrent increments never
// overwrite each other.
func (s *LibSQLStore) IncrementCounter(ctx context.Context, postID string, counter discourse.Counter) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	// counter is one of a closed set of column names
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET `+string(counter)+` = `+string(counter)+` + 1 WHERE id = ?`, postID)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("post %s: %w", postID, discourse.ErrNotFound)
	}
	return nil
}

// ListRecentTopLevelPosts returns undeleted top-level posts newest first.
func (s *LibSQLStore) ListRecentTopLevelPosts(ctx context.Context, tenantID string, since time.Time, limit int) ([]discourse.Post, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE tenant_id = ? AND parent_id IS NULL AND is_deleted = 0 AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`, tenantID, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent posts: %w", err)
	}
	defer rows.Close()

	var posts []discourse.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

// SoftDeletePost marks a post deleted; replies keep their parent link.
func (s *LibSQLStore) SoftDeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET is_deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("post %s: %w", id, discourse.ErrNotFound)
	}
	return nil
}

const personaColumns = `id, profile_id, username, tenant_id, voice, is_active, api_key, base_url, model, last_post_at`

func scanPersona(row rowScanner) (discourse.Persona, error) {
	var (
		p        discourse.Persona
		lastPost sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.ProfileID, &p.Username, &p.TenantID, &p.Voice, &p.Active,
		&p.Credentials.APIKey, &p.Credentials.BaseURL, &p.Credentials.Model, &lastPost)
	if err != nil {
		return discourse.Persona{}, err
	}
	if lastPost.Valid {
		t := time.Unix(0, lastPost.Int64)
		p.LastPostAt = &t
	}
	return p, nil
}

// ListActivePersonas returns the tenant's active personas ordered by username.
func (s *LibSQLStore) ListActivePersonas(ctx context.Context, tenantID string) ([]discourse.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+personaColumns+` FROM personas
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY username`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query personas: %w", err)
	}
	defer rows.Close()

	var personas []discourse.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan persona: %w", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating personas: %w", err)
	}
	return personas, nil
}

// GetPersona loads a persona by ID.
func (s *LibSQLStore) GetPersona(ctx context.Context, id string) (discourse.Persona, error) {
	p, err := scanPersona(s.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return discourse.Persona{}, fmt.Errorf("persona %s: %w", id, discourse.ErrNotFound)
	}
	if err != nil {
		return discourse.Persona{}, fmt.Errorf("failed to load persona %s: %w", id, err)
	}
	return p, nil
}

// TouchPersona records the time of the persona's latest original post.
func (s *LibSQLStore) TouchPersona(ctx context.Context, personaID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE personas SET last_post_at = ? WHERE id = ?`, at.UnixNano(), personaID)
	if err != nil {
		return fmt.Errorf("failed to update persona %s: %w", personaID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("persona %s: %w", personaID, discourse.ErrNotFound)
	}
	return nil
}

// UpsertPersona creates a persona or updates the one with the same tenant and username.
// The stored persona is returned; a new persona without ID or ProfileID gets fresh ones.
func (s *LibSQLStore) UpsertPersona(ctx context.Context, p discourse.Persona) (discourse.Persona, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return discourse.Persona{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID, existingProfile string
	err = tx.QueryRowContext(ctx, `SELECT id, profile_id FROM personas WHERE tenant_id = ? AND username = ?`, p.TenantID, p.Username).
		Scan(&existingID, &existingProfile)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.ProfileID == "" {
			p.ProfileID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO personas (id, profile_id, username, tenant_id, voice, is_active, api_key, base_url, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ProfileID, p.Username, p.TenantID, p.Voice, boolInt(p.Active),
			p.Credentials.APIKey, p.Credentials.BaseURL, p.Credentials.Model, s.now().UnixNano())
	case err == nil:
		p.ID, p.ProfileID = existingID, existingProfile
		_, err = tx.ExecContext(ctx, `
			UPDATE personas SET voice = ?, is_active = ?, api_key = ?, base_url = ?, model = ? WHERE id = ?`,
			p.Voice, boolInt(p.Active), p.Credentials.APIKey, p.Credentials.BaseURL, p.Credentials.Model, p.ID)
	}
	if err != nil {
		return discourse.Persona{}, fmt.Errorf("failed to upsert persona %s: %w", p.Username, err)
	}
	if err := tx.Commit(); err != nil {
		return discourse.Persona{}, fmt.Errorf("failed to commit persona: %w", err)
	}
	return s.GetPersona(ctx, p.ID)
}

// ListTenants returns every tenant with at least one active persona.
func (s *LibSQLStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM personas WHERE is_active = 1 ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// Ensure LibSQLStore implements the DiscourseStore interface.
var _ ports.DiscourseStore = (*LibSQLStore)(nil)
