// Package notify provides the best-effort notification sink.
package notify

import (
	"context"
	"log/slog"

	"github.com/harrierhq/harrier/internal/domain"
)

// RepositorySink appends notifications to the repository. Alerts are the
// authoritative record; this sink is the side channel, and its failures are
// the caller's to log and ignore.
type RepositorySink struct {
	repo domain.Repository
}

// NewRepositorySink creates a repository-backed sink.
func NewRepositorySink(repo domain.Repository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Notify appends one notification row.
func (s *RepositorySink) Notify(ctx context.Context, customerID, channel, title, body string, meta map[string]any) error {
	n := &domain.Notification{
		CustomerID: customerID,
		Channel:    channel,
		Title:      title,
		Body:       body,
		Meta:       meta,
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return err
	}

	slog.Debug("notification written",
		"notification_id", n.ID,
		"customer_id", customerID,
		"channel", channel,
	)
	return nil
}
