package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-webdav/caldav"

	appLog "icssync/internal/log"
	"icssync/internal/model"
)

// Gateway stores events as objects "<id>.ics" inside one CalDAV collection.
// The calendar id given to its methods only labels log lines; the
// collection is fixed at construction.
type Gateway struct {
	client     *caldav.Client
	collection string
	now        func() time.Time
}

// NewGateway connects to the calendar collection at collectionURL.
func NewGateway(collectionURL, username, password string) (*Gateway, error) {
	u, err := url.Parse(collectionURL)
	if err != nil {
		return nil, fmt.Errorf("parse caldav url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("caldav url %q must be absolute", collectionURL)
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: username,
			password: password,
			base:     http.DefaultTransport,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, collectionURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	collection := u.Path
	if !strings.HasSuffix(collection, "/") {
		collection += "/"
	}
	return &Gateway{client: client, collection: collection, now: time.Now}, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests and reports rejected
// credentials as model.ErrAuth.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.username, t.password)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: caldav server answered %s", model.ErrAuth, resp.Status)
	}
	return resp, nil
}

// List returns the ids of objects holding a VEVENT overlapping the window.
func (g *Gateway) List(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]string, error) {
	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: timeMin.UTC(),
					End:   timeMax.UTC(),
				},
			},
		},
	}

	objects, err := g.client.QueryCalendar(ctx, g.collection, query)
	if err != nil {
		if errors.Is(err, model.ErrAuth) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: query calendar: %w", model.ErrRemoteList, err)
	}

	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		ids = append(ids, objectID(obj.Path))
	}
	appLog.Debug("caldav events listed", "calendar", calendarID, "count", len(ids))
	return ids, nil
}

// Insert writes ev to "<id>.ics", replacing any object at that path.
func (g *Gateway) Insert(ctx context.Context, calendarID string, ev model.RemoteEvent) (string, error) {
	cal, err := encodeEvent(ev, g.now())
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	if _, err := g.client.PutCalendarObject(ctx, g.objectPath(ev.ID), cal); err != nil {
		return "", fmt.Errorf("put event: %w", err)
	}
	return ev.ID, nil
}

// Delete removes the object for eventID.
func (g *Gateway) Delete(ctx context.Context, calendarID, eventID string) error {
	if err := g.client.RemoveAll(ctx, g.objectPath(eventID)); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (g *Gateway) objectPath(id string) string {
	return g.collection + id + ".ics"
}

func objectID(p string) string {
	return strings.TrimSuffix(path.Base(p), ".ics")
}
