package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icssync/internal/model"
)

func TestClassifyExclusive(t *testing.T) {
	tests := []struct {
		name string
		rec  model.RawRecord
		want model.EventClass
	}{
		{"plain", model.RawRecord{Name: "a"}, model.ClassSingle},
		{"rule", model.RawRecord{RecurrenceRule: "FREQ=DAILY"}, model.ClassRecurringMaster},
		{"prefixed rule", model.RawRecord{RecurrenceRule: "RRULE:FREQ=DAILY"}, model.ClassRecurringMaster},
		{"blank rule", model.RawRecord{RecurrenceRule: "  "}, model.ClassSingle},
		{"override", model.RawRecord{IsRecurrenceException: true}, model.ClassRecurrenceOverride},
		{"rule wins over flag", model.RawRecord{RecurrenceRule: "FREQ=DAILY", IsRecurrenceException: true}, model.ClassRecurringMaster},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.rec))
		})
	}
}

func TestNormalize(t *testing.T) {
	loc := mustLoad(t, "Asia/Taipei")

	records := []model.RawRecord{
		{UID: "a", Name: "Single", Begin: "2024-01-01T09:00:00+08:00", End: "2024-01-01T10:00:00+08:00"},
		{UID: "b", Name: "Weekly", Begin: "2024-01-01T09:00:00", End: "2024-01-01T10:00:00", RecurrenceRule: "RRULE:FREQ=WEEKLY;BYDAY=MO", ExDate: "20240108T010000Z, 2024-01-15"},
		{UID: "b", Name: "Weekly moved", Begin: "2024-01-22T11:00:00", End: "2024-01-22T12:00:00", IsRecurrenceException: true, RecurrenceID: "2024-01-22T09:00:00"},
		{UID: "c", Begin: "2024-01-01", End: "2024-01-02"},
		{UID: "d", Name: "Bad", Begin: "yesterday", End: "2024-01-02"},
		{UID: "e", Name: "Bad rule", Begin: "2024-01-01", End: "2024-01-02", RecurrenceRule: "FREQ=SOMETIMES"},
	}

	results := Normalize(records, loc)
	require.Len(t, results, len(records))

	events, failures := Partition(results)
	require.Len(t, events, 3)
	require.Len(t, failures, 3)

	single := events[0]
	assert.Equal(t, model.ClassSingle, single.Class)
	assert.True(t, single.Begin.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, loc)))

	master := events[1]
	assert.Equal(t, model.ClassRecurringMaster, master.Class)
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", master.RecurrenceRule)
	require.Len(t, master.ExceptionDates, 2)
	assert.True(t, master.ExceptionDates[0].Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, loc)))
	assert.True(t, master.ExceptionDates[1].Equal(time.Date(2024, 1, 15, 0, 0, 0, 0, loc)))

	override := events[2]
	assert.Equal(t, model.ClassRecurrenceOverride, override.Class)
	assert.True(t, override.IsOverride)
	assert.True(t, override.OverrideOriginalStart.Equal(time.Date(2024, 1, 22, 9, 0, 0, 0, loc)))

	for _, f := range failures {
		assert.Equal(t, model.ParseFailure, f.Kind)
		assert.Equal(t, "parse", f.Op)
	}
	assert.Equal(t, "c", failures[0].Identity)
	assert.Equal(t, "d", failures[1].Identity)
	assert.Equal(t, "e", failures[2].Identity)

	var ee *model.EventError
	assert.True(t, errors.As(results[3].Error(), &ee))
}

func TestParseTimestamp(t *testing.T) {
	loc := mustLoad(t, "Asia/Taipei")

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01T00:00:00", time.Date(2024, 1, 1, 0, 0, 0, 0, loc)},
		{"2024-01-01 08:00:00", time.Date(2024, 1, 1, 8, 0, 0, 0, loc)},
		{"2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 8, 0, 0, 0, loc)},
		{"2024-01-01T00:00:00+00:00", time.Date(2024, 1, 1, 8, 0, 0, 0, loc)},
		{"20240101T000000Z", time.Date(2024, 1, 1, 8, 0, 0, 0, loc)},
		{"20240101T093000", time.Date(2024, 1, 1, 9, 30, 0, 0, loc)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, loc)},
		{"20240101", time.Date(2024, 1, 1, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in, loc)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, loc, got.Location())
		})
	}

	_, err := ParseTimestamp("", loc)
	assert.Error(t, err)
	_, err = ParseTimestamp("01/02/2024", loc)
	assert.Error(t, err)
}
