package reconcile

import (
	"context"
	"time"

	"icssync/internal/model"
)

// Gateway is the remote calendar. Every call blocks until the remote
// answers; the Reconciler never issues two calls at once.
type Gateway interface {
	// List returns the ids of remote events between timeMin and timeMax.
	List(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]string, error)
	// Insert creates ev and returns the id the remote assigned.
	Insert(ctx context.Context, calendarID string, ev model.RemoteEvent) (string, error)
	// Delete removes the event with eventID.
	Delete(ctx context.Context, calendarID, eventID string) error
}

// StateStore persists identifier -> fingerprint mappings per calendar.
// Load returns an empty map when nothing was saved yet.
type StateStore interface {
	Load(ctx context.Context, calendarID string) (map[string]string, error)
	Save(ctx context.Context, calendarID string, fingerprints map[string]string) error
}
