package reconcile

import (
	"time"

	"icssync/internal/model"
)

const (
	exdateLayout     = "20060102T150405"
	exdateDateLayout = "20060102"
)

// Renderer builds the remote body of an event. All date-time fields and
// EXDATE lines are expressed in Location.
type Renderer struct {
	CalendarID string
	Location   *time.Location
}

func (r Renderer) loc() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// Render returns the remote form of ev under the identifier id.
func (r Renderer) Render(ev model.CalendarEvent, id string) model.RemoteEvent {
	loc := r.loc()
	zone := loc.String()

	out := model.RemoteEvent{
		ID:          id,
		Summary:     ev.Name,
		Description: ev.Description,
		Location:    ev.Location,
	}

	start := ev.Begin.In(loc)
	end := ev.End.In(loc)
	// A zero-length event at midnight stays timed; an all-day range needs
	// end after start.
	allDay := isMidnight(start) && isMidnight(end) && end.After(start)
	if allDay {
		out.Start = model.EventTime{Date: start.Format(dateLayout)}
		out.End = model.EventTime{Date: end.Format(dateLayout)}
	} else {
		out.Start = model.EventTime{DateTime: start.Format(time.RFC3339), TimeZone: zone}
		out.End = model.EventTime{DateTime: end.Format(time.RFC3339), TimeZone: zone}
	}

	// EXDATE only means something next to a rule.
	if ev.Class == model.ClassRecurringMaster && ev.RecurrenceRule != "" {
		out.Recurrence = append(out.Recurrence, rrulePrefix+ev.RecurrenceRule)
		for _, ex := range ev.ExceptionDates {
			if allDay {
				out.Recurrence = append(out.Recurrence, "EXDATE;VALUE=DATE:"+ex.In(loc).Format(exdateDateLayout))
				continue
			}
			out.Recurrence = append(out.Recurrence, "EXDATE;TZID="+zone+":"+ex.In(loc).Format(exdateLayout))
		}
	}

	if ev.Class == model.ClassRecurrenceOverride {
		orig := ev.OverrideOriginalStart
		if orig.IsZero() {
			orig = ev.Begin
		}
		out.RecurringEventID = MasterID(r.CalendarID, ev.IdentityKey())
		out.OriginalStartTime = &model.EventTime{
			DateTime: orig.In(loc).Format(time.RFC3339),
			TimeZone: zone,
		}
	}

	return out
}

func isMidnight(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
