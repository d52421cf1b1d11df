package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// LibSQLNotificationSink stores notifications in the notifications table.
type LibSQLNotificationSink struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLibSQLNotificationSink(db *sql.DB, logger zerolog.Logger) *LibSQLNotificationSink {
	return &LibSQLNotificationSink{
		db:     db,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Notify inserts the notification; failures are logged only.
func (n *LibSQLNotificationSink) Notify(ctx context.Context, profileID, event, message string) {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO notifications (id, profile_id, event, content, is_read, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		uuid.NewString(), profileID, event, message, time.Now().UnixNano())
	if err != nil {
		n.logger.Error().Err(err).Str("profile", profileID).Str("event", event).Msg("Failed to store notification")
	}
}

// List returns the profile's notifications, newest first.
func (n *LibSQLNotificationSink) List(ctx context.Context, profileID string, limit int) ([]discourse.Notification, error) {
	rows, err := n.db.QueryContext(ctx, `
		SELECT id, profile_id, event, content, is_read, created_at FROM notifications
		WHERE profile_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []discourse.Notification
	for rows.Next() {
		var (
			nt        discourse.Notification
			createdAt int64
		)
		if err := rows.Scan(&nt.ID, &nt.ProfileID, &nt.Event, &nt.Message, &nt.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		nt.CreatedAt = time.Unix(0, createdAt)
		out = append(out, nt)
	}
	return out, rows.Err()
}

var _ ports.NotificationSink = (*LibSQLNotificationSink)(nil)
