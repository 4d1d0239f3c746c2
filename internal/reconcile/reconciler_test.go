package reconcile

import (
	"context"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"icssync/internal/model"
)

const testCalendar = "family@group.calendar.example.com"

// memStore is an in-memory StateStore.
type memStore struct {
	data    map[string]map[string]string
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{data: map[string]map[string]string{}}
}

func (s *memStore) Load(_ context.Context, calendarID string) (map[string]string, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return maps.Clone(s.data[calendarID]), nil
}

func (s *memStore) Save(_ context.Context, calendarID string, m map[string]string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.data[calendarID] = maps.Clone(m)
	return nil
}

// fakeGateway keeps remote events in memory.
type fakeGateway struct {
	events  map[string]model.RemoteEvent
	calls   []string
	listErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: map[string]model.RemoteEvent{}}
}

func (g *fakeGateway) List(_ context.Context, _ string, _, _ time.Time) ([]string, error) {
	g.calls = append(g.calls, "list")
	if g.listErr != nil {
		return nil, g.listErr
	}
	ids := make([]string, 0, len(g.events))
	for id := range g.events {
		ids = append(ids, id)
	}
	return ids, nil
}

func (g *fakeGateway) Insert(_ context.Context, _ string, ev model.RemoteEvent) (string, error) {
	g.calls = append(g.calls, "insert "+ev.ID)
	g.events[ev.ID] = ev
	return ev.ID, nil
}

func (g *fakeGateway) Delete(_ context.Context, _ string, id string) error {
	g.calls = append(g.calls, "delete "+id)
	delete(g.events, id)
	return nil
}

func (g *fakeGateway) mutations() int {
	n := 0
	for _, c := range g.calls {
		if c != "list" {
			n++
		}
	}
	return n
}

func testOptions() Options {
	return Options{
		CalendarID: testCalendar,
		Location:   time.UTC,
		Now:        func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func sampleEvents() []model.CalendarEvent {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	return []model.CalendarEvent{
		{
			UID: "override", Name: "Moved", Class: model.ClassRecurrenceOverride, IsOverride: true,
			Begin: day.Add(14 * time.Hour), End: day.Add(15 * time.Hour), OverrideOriginalStart: day.Add(10 * time.Hour),
		},
		{
			UID: "series", Name: "Weekly", Class: model.ClassRecurringMaster, RecurrenceRule: "FREQ=WEEKLY",
			Begin: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour),
		},
		{UID: "one", Name: "Dentist", Begin: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
		{UID: "two", Name: "Holiday", Begin: day, End: day.AddDate(0, 0, 1)},
	}
}

func TestOrderPhases(t *testing.T) {
	ordered := Order(sampleEvents())
	names := make([]string, 0, len(ordered))
	for _, ev := range ordered {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"Dentist", "Holiday", "Weekly", "Moved"}, names)
}

func TestRunIdempotentResync(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	events := sampleEvents()

	first, err := New(testOptions(), gw, store).Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Added)
	assert.Equal(t, 0, first.Skipped)
	assert.Len(t, gw.events, 4)

	// Inserts follow phase order.
	assert.Equal(t, []string{
		"list",
		"insert " + DeriveID(testCalendar, events[2]),
		"insert " + DeriveID(testCalendar, events[3]),
		"insert " + DeriveID(testCalendar, events[1]),
		"insert " + DeriveID(testCalendar, events[0]),
	}, gw.calls)

	gw.calls = nil
	second, err := New(testOptions(), gw, store).Run(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Added)
	assert.Equal(t, 4, second.Skipped)
	assert.Equal(t, 0, gw.mutations())
	assert.Equal(t, 2, store.saves)
}

func TestRunSkipsUnchangedEvent(t *testing.T) {
	ev := sampleEvents()[2]
	id1 := DeriveID(testCalendar, ev)
	h1 := Fingerprinter{}.Fingerprint(ev)

	store := newMemStore()
	store.data[testCalendar] = map[string]string{id1: h1}

	gw := &MockGateway{}
	gw.On("List", mock.Anything, testCalendar, mock.Anything, mock.Anything).Return([]string{id1}, nil).Once()

	report, err := New(testOptions(), gw, store).Run(context.Background(), []model.CalendarEvent{ev})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Added)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, OutcomeSkipped, report.Actions[0].Outcome)
	gw.AssertExpectations(t)
	gw.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, map[string]string{id1: h1}, store.data[testCalendar])
}

func TestRunReplacesExistingIdentifier(t *testing.T) {
	ev := sampleEvents()[2]
	id := DeriveID(testCalendar, ev)

	store := newMemStore()
	store.data[testCalendar] = map[string]string{id: "stale"}

	var order []string
	gw := &MockGateway{}
	gw.On("List", mock.Anything, testCalendar, mock.Anything, mock.Anything).Return([]string{id, "unrelated"}, nil).Once()
	gw.On("Delete", mock.Anything, testCalendar, id).Return(nil).Once().
		Run(func(mock.Arguments) { order = append(order, "delete") })
	gw.On("Insert", mock.Anything, testCalendar, mock.MatchedBy(func(body model.RemoteEvent) bool {
		return body.ID == id && body.Summary == "Dentist"
	})).Return(id, nil).Once().
		Run(func(mock.Arguments) { order = append(order, "insert") })

	report, err := New(testOptions(), gw, store).Run(context.Background(), []model.CalendarEvent{ev})
	require.NoError(t, err)

	gw.AssertExpectations(t)
	assert.Equal(t, []string{"delete", "insert"}, order)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Replaced)
	assert.Equal(t, OutcomeReplaced, report.Actions[0].Outcome)
	assert.Equal(t, Fingerprinter{}.Fingerprint(ev), store.data[testCalendar][id])
}

func TestRunDeleteFailureStillInserts(t *testing.T) {
	ev := sampleEvents()[2]
	id := DeriveID(testCalendar, ev)

	gw := &MockGateway{}
	gw.On("List", mock.Anything, testCalendar, mock.Anything, mock.Anything).Return([]string{id}, nil).Once()
	gw.On("Delete", mock.Anything, testCalendar, id).Return(errors.New("410 gone")).Once()
	gw.On("Insert", mock.Anything, testCalendar, mock.Anything).Return(id, nil).Once()

	report, err := New(testOptions(), gw, newMemStore()).Run(context.Background(), []model.CalendarEvent{ev})
	require.NoError(t, err)
	gw.AssertExpectations(t)

	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 0, report.Replaced)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "delete", report.Errors[0].Op)
	assert.Equal(t, model.MutationFailure, report.Errors[0].Kind)
}

func TestRunInsertFailureIsIsolated(t *testing.T) {
	events := sampleEvents()[2:]
	bad := DeriveID(testCalendar, events[0])

	store := newMemStore()
	gw := &MockGateway{}
	gw.On("List", mock.Anything, testCalendar, mock.Anything, mock.Anything).Return([]string{}, nil).Once()
	gw.On("Insert", mock.Anything, testCalendar, mock.MatchedBy(func(b model.RemoteEvent) bool { return b.ID == bad })).
		Return("", errors.New("rate limited")).Once()
	gw.On("Insert", mock.Anything, testCalendar, mock.MatchedBy(func(b model.RemoteEvent) bool { return b.ID != bad })).
		Return("ok", nil).Once()

	report, err := New(testOptions(), gw, store).Run(context.Background(), events)
	require.NoError(t, err)
	gw.AssertExpectations(t)

	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, bad, report.Errors[0].EventID)
	assert.ErrorContains(t, report.Errors[0], "rate limited")

	// The state still records every processed event.
	assert.Len(t, store.data[testCalendar], 2)
	assert.Contains(t, store.data[testCalendar], bad)
}

func TestRunListFailureAborts(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	gw.listErr = errors.New("503 backend error")

	report, err := New(testOptions(), gw, store).Run(context.Background(), sampleEvents())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, model.ErrRemoteList)
	assert.Equal(t, 0, gw.mutations())
	assert.Equal(t, 0, store.saves)
}

func TestRunAuthFailureKeepsKind(t *testing.T) {
	gw := newFakeGateway()
	gw.listErr = model.ErrAuth

	_, err := New(testOptions(), gw, newMemStore()).Run(context.Background(), sampleEvents())
	assert.ErrorIs(t, err, model.ErrAuth)
	assert.NotErrorIs(t, err, model.ErrRemoteList)
}

func TestRunStateLoadFailure(t *testing.T) {
	store := newMemStore()
	store.loadErr = model.ErrRecordIO
	gw := newFakeGateway()

	_, err := New(testOptions(), gw, store).Run(context.Background(), sampleEvents())
	assert.ErrorIs(t, err, model.ErrRecordIO)
	assert.Empty(t, gw.calls)

	opts := testOptions()
	opts.ResetCorruptState = true
	report, err := New(opts, gw, store).Run(context.Background(), sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Added)
	assert.Len(t, store.data[testCalendar], 4)
}

func TestRunStateSaveFailure(t *testing.T) {
	store := newMemStore()
	store.saveErr = model.ErrRecordIO

	report, err := New(testOptions(), newFakeGateway(), store).Run(context.Background(), sampleEvents())
	assert.ErrorIs(t, err, model.ErrRecordIO)
	require.NotNil(t, report)
	assert.Equal(t, 4, report.Added)
}

func TestRunDryRun(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	opts := testOptions()
	opts.DryRun = true

	report, err := New(opts, gw, store).Run(context.Background(), sampleEvents())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 0, gw.mutations())
	assert.Equal(t, 0, store.saves)
	for _, a := range report.Actions {
		assert.Equal(t, OutcomePlanned, a.Outcome)
	}
}

func TestRunPurgeOrphans(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	events := sampleEvents()

	_, err := New(testOptions(), gw, store).Run(context.Background(), events)
	require.NoError(t, err)

	dropped := DeriveID(testCalendar, events[3])
	remaining := events[:3]

	// Without purge the orphan stays remote but leaves the state.
	_, err = New(testOptions(), gw, store).Run(context.Background(), remaining)
	require.NoError(t, err)
	assert.Contains(t, gw.events, dropped)
	assert.NotContains(t, store.data[testCalendar], dropped)

	// The state no longer knows the orphan, so restore it to test purging.
	store.data[testCalendar][dropped] = "old"
	opts := testOptions()
	opts.PurgeOrphans = true
	gw.calls = nil
	report, err := New(opts, gw, store).Run(context.Background(), remaining)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)
	assert.Equal(t, []string{"list", "delete " + dropped}, gw.calls)
	assert.NotContains(t, gw.events, dropped)
}

func TestRunCancelledContextSkipsSave(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testOptions(), gw, store).Run(ctx, sampleEvents())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, gw.mutations())
	assert.Equal(t, 0, store.saves)
}

func TestRunListWindow(t *testing.T) {
	opts := testOptions()
	opts.WindowBack = 30 * 24 * time.Hour
	opts.WindowForward = 60 * 24 * time.Hour
	now := opts.Now()

	gw := &MockGateway{}
	gw.On("List", mock.Anything, testCalendar, now.Add(-opts.WindowBack), now.Add(opts.WindowForward)).Return([]string{}, nil).Once()

	_, err := New(opts, gw, newMemStore()).Run(context.Background(), nil)
	require.NoError(t, err)
	gw.AssertExpectations(t)
}
