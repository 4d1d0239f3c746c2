package gcal

import (
	"google.golang.org/api/calendar/v3"

	"icssync/internal/model"
)

// toGoogle maps a rendered event onto the Calendar API representation.
func toGoogle(ev model.RemoteEvent) *calendar.Event {
	out := &calendar.Event{
		Id:               ev.ID,
		Summary:          ev.Summary,
		Description:      ev.Description,
		Location:         ev.Location,
		Start:            toDateTime(ev.Start),
		End:              toDateTime(ev.End),
		Recurrence:       ev.Recurrence,
		RecurringEventId: ev.RecurringEventID,
	}
	if ev.OriginalStartTime != nil {
		out.OriginalStartTime = toDateTime(*ev.OriginalStartTime)
	}
	return out
}

func toDateTime(t model.EventTime) *calendar.EventDateTime {
	if t.Date != "" {
		return &calendar.EventDateTime{Date: t.Date}
	}
	return &calendar.EventDateTime{DateTime: t.DateTime, TimeZone: t.TimeZone}
}
