package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"icssync/internal/model"
)

const rrulePrefix = "RRULE:"

// Classify assigns exactly one class to a record. A recurrence rule wins
// over the override flag; the flag itself is trusted as set by the
// conversion stage.
func Classify(rec model.RawRecord) model.EventClass {
	if bareRule(rec.RecurrenceRule) != "" {
		return model.ClassRecurringMaster
	}
	if rec.IsRecurrenceException {
		return model.ClassRecurrenceOverride
	}
	return model.ClassSingle
}

// Normalize turns raw records into classified events. Each record yields
// one result; malformed records become errors carrying a *model.EventError
// and never stop the batch.
func Normalize(records []model.RawRecord, loc *time.Location) []mo.Result[model.CalendarEvent] {
	if loc == nil {
		loc = time.Local
	}
	out := make([]mo.Result[model.CalendarEvent], 0, len(records))
	for _, rec := range records {
		ev, err := normalizeRecord(rec, loc)
		if err != nil {
			out = append(out, mo.Err[model.CalendarEvent](&model.EventError{
				Kind:     model.ParseFailure,
				Op:       "parse",
				Identity: identityOf(rec),
				Err:      err,
			}))
			continue
		}
		out = append(out, mo.Ok(ev))
	}
	return out
}

// Partition splits Normalize results into usable events and parse failures.
func Partition(results []mo.Result[model.CalendarEvent]) ([]model.CalendarEvent, []*model.EventError) {
	events := make([]model.CalendarEvent, 0, len(results))
	var failures []*model.EventError
	for _, r := range results {
		if r.IsOk() {
			events = append(events, r.MustGet())
			continue
		}
		var ee *model.EventError
		if errors.As(r.Error(), &ee) {
			failures = append(failures, ee)
		} else {
			failures = append(failures, &model.EventError{Kind: model.ParseFailure, Op: "parse", Err: r.Error()})
		}
	}
	return events, failures
}

func normalizeRecord(rec model.RawRecord, loc *time.Location) (model.CalendarEvent, error) {
	var ev model.CalendarEvent

	if rec.Name == "" {
		return ev, errors.New("missing name")
	}
	if rec.Begin == "" || rec.End == "" {
		return ev, errors.New("missing begin or end")
	}

	begin, err := ParseTimestamp(rec.Begin, loc)
	if err != nil {
		return ev, fmt.Errorf("begin: %w", err)
	}
	end, err := ParseTimestamp(rec.End, loc)
	if err != nil {
		return ev, fmt.Errorf("end: %w", err)
	}
	if end.Before(begin) {
		return ev, fmt.Errorf("end %s is before begin %s", rec.End, rec.Begin)
	}

	ev = model.CalendarEvent{
		UID:         rec.UID,
		Name:        rec.Name,
		Description: rec.Description,
		Location:    rec.Location,
		Begin:       begin,
		End:         end,
		Class:       Classify(rec),
	}

	if ev.Class == model.ClassRecurringMaster {
		rule := bareRule(rec.RecurrenceRule)
		if _, err := rrule.StrToROption(rule); err != nil {
			return ev, fmt.Errorf("recurrence rule %q: %w", rule, err)
		}
		ev.RecurrenceRule = rule
	}

	if strings.TrimSpace(rec.ExDate) != "" {
		exdates, err := parseExceptionDates(rec.ExDate, loc)
		if err != nil {
			return ev, err
		}
		ev.ExceptionDates = exdates
	}

	if ev.Class == model.ClassRecurrenceOverride {
		ev.IsOverride = true
		ev.OverrideOriginalStart = begin
		if rec.RecurrenceID != "" {
			orig, err := ParseTimestamp(rec.RecurrenceID, loc)
			if err != nil {
				return ev, fmt.Errorf("recurrence id: %w", err)
			}
			ev.OverrideOriginalStart = orig
		}
	}

	return ev, nil
}

func parseExceptionDates(raw string, loc *time.Location) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := ParseTimestamp(part, loc)
		if err != nil {
			return nil, fmt.Errorf("exdate %q: %w", part, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// bareRule strips surrounding space and an optional "RRULE:" prefix.
func bareRule(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len(rrulePrefix) && strings.EqualFold(s[:len(rrulePrefix)], rrulePrefix) {
		s = strings.TrimSpace(s[len(rrulePrefix):])
	}
	return s
}

func identityOf(rec model.RawRecord) string {
	if rec.UID != "" {
		return rec.UID
	}
	return rec.Name
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"20060102T150405Z",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102T150405",
	"2006-01-02",
	"20060102",
}

// ParseTimestamp accepts ISO-8601 and iCalendar basic forms. Values without
// an offset are read as wall clock time in loc; the result is always in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
