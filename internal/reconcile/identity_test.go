package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"icssync/internal/model"
)

func TestDeriveID(t *testing.T) {
	loc := mustLoad(t, "Asia/Taipei")
	begin := time.Date(2024, 3, 4, 9, 30, 0, 0, loc)
	ev := model.CalendarEvent{UID: "uid-1", Name: "Standup", Begin: begin}

	tests := []struct {
		name  string
		class model.EventClass
		want  string
	}{
		{"recurring master", model.ClassRecurringMaster, "789494aae0b91bee60fb51a80fd94b76"},
		{"override", model.ClassRecurrenceOverride, "6c2ebdd40a77808ea66d5f7e4f70ff42"},
		{"single", model.ClassSingle, "047acee70f0f4dce56091bfda206ab4e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev.Class = tt.class
			assert.Equal(t, tt.want, DeriveID("cal@example.com", ev))
		})
	}
}

func TestDeriveIDFallsBackToName(t *testing.T) {
	begin := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	byName := model.CalendarEvent{Name: "uid-1", Begin: begin, Class: model.ClassRecurringMaster}
	assert.Equal(t, MasterID("cal@example.com", "uid-1"), DeriveID("cal@example.com", byName))
}

func TestDeriveIDStability(t *testing.T) {
	begin := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	single := model.CalendarEvent{UID: "u", Name: "A", Begin: begin}

	// Pure: repeated calls agree.
	assert.Equal(t, DeriveID("c", single), DeriveID("c", single))

	// Master ids ignore the date so occurrence edits keep the series id.
	master := single
	master.Class = model.ClassRecurringMaster
	moved := master
	moved.Begin = begin.AddDate(0, 1, 0)
	assert.Equal(t, DeriveID("c", master), DeriveID("c", moved))

	// Singles differ by clock time, overrides only by date.
	later := single
	later.Begin = begin.Add(time.Hour)
	assert.NotEqual(t, DeriveID("c", single), DeriveID("c", later))

	override := single
	override.Class = model.ClassRecurrenceOverride
	overrideLater := override
	overrideLater.Begin = begin.Add(time.Hour)
	assert.Equal(t, DeriveID("c", override), DeriveID("c", overrideLater))

	// Calendars never share identifiers.
	assert.NotEqual(t, DeriveID("c1", single), DeriveID("c2", single))
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s unavailable: %v", name, err)
	}
	return loc
}
