package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "icssync/internal/log"
	"icssync/internal/model"
)

const listPageSize = 2500

// Gateway talks to the Google Calendar v3 Events API.
type Gateway struct {
	svc *calendar.Service
}

// NewGateway creates a Gateway over an authenticated client. Extra options
// (e.g. option.WithEndpoint) are passed to the service.
func NewGateway(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*Gateway, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Gateway{svc: svc}, nil
}

// List returns the ids of events overlapping [timeMin, timeMax). Recurring
// series are listed once under their own id, together with any detached
// instances.
func (g *Gateway) List(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]string, error) {
	call := g.svc.Events.List(calendarID).
		Context(ctx).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(false).
		ShowDeleted(false).
		MaxResults(listPageSize).
		Fields("items(id)", "nextPageToken")

	var ids []string
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ids = append(ids, item.Id)
		}
		return nil
	})
	if err != nil {
		if isAuth(err) {
			return nil, wrapAuth(err)
		}
		return nil, fmt.Errorf("%w: %w", model.ErrRemoteList, err)
	}
	appLog.Debug("google events listed", "calendar", calendarID, "count", len(ids))
	return ids, nil
}

// Insert creates ev with its precomputed id and returns the stored id.
func (g *Gateway) Insert(ctx context.Context, calendarID string, ev model.RemoteEvent) (string, error) {
	created, err := g.svc.Events.Insert(calendarID, toGoogle(ev)).Context(ctx).Do()
	if err != nil {
		return "", wrapAuth(err)
	}
	return created.Id, nil
}

// Delete removes eventID. Events that are already gone count as deleted.
func (g *Gateway) Delete(ctx context.Context, calendarID, eventID string) error {
	err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		appLog.Debug("google event already gone", "calendar", calendarID, "event_id", eventID)
		return nil
	}
	return wrapAuth(err)
}

func isAuth(err error) bool {
	if errors.Is(err, model.ErrAuth) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized
}

func wrapAuth(err error) error {
	if isAuth(err) && !errors.Is(err, model.ErrAuth) {
		return fmt.Errorf("%w: %w", model.ErrAuth, err)
	}
	return err
}
