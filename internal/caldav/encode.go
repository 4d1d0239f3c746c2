package caldav

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"icssync/internal/model"
)

const (
	prodID = "-//icssync//CalDAV//EN"

	// propOriginalStart keeps the replaced occurrence of an override, which
	// is stored as its own object rather than inside the series.
	propOriginalStart = "X-ICSSYNC-ORIGINAL-START"
)

// encodeEvent converts a rendered event into a single-VEVENT calendar whose
// UID is the event id.
func encodeEvent(ev model.RemoteEvent, now time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, ev.ID)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	vevent.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Description != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		vevent.Props.SetText(ical.PropLocation, ev.Location)
	}

	if err := setTime(vevent.Props, ical.PropDateTimeStart, ev.Start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if err := setTime(vevent.Props, ical.PropDateTimeEnd, ev.End); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	for _, line := range ev.Recurrence {
		prop, err := parseContentLine(line)
		if err != nil {
			return nil, err
		}
		vevent.Props.Add(prop)
	}

	if ev.RecurringEventID != "" {
		related := ical.NewProp("RELATED-TO")
		related.Value = ev.RecurringEventID
		vevent.Props.Set(related)
	}
	if ev.OriginalStartTime != nil {
		if err := setTime(vevent.Props, propOriginalStart, *ev.OriginalStartTime); err != nil {
			return nil, fmt.Errorf("original start: %w", err)
		}
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal, nil
}

func setTime(props ical.Props, name string, t model.EventTime) error {
	if t.Date != "" {
		d, err := time.Parse("2006-01-02", t.Date)
		if err != nil {
			return err
		}
		props.SetDate(name, d)
		return nil
	}

	dt, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return err
	}
	if t.TimeZone != "" {
		if loc, err := time.LoadLocation(t.TimeZone); err == nil && loc != time.UTC {
			props.SetDateTime(name, dt.In(loc))
			return nil
		}
	}
	props.SetDateTime(name, dt.UTC())
	return nil
}

// parseContentLine reads an iCalendar line such as
// "EXDATE;TZID=Asia/Taipei:20240311T093000" into a property.
func parseContentLine(line string) (*ical.Prop, error) {
	head, value, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("malformed recurrence line %q", line)
	}
	parts := strings.Split(head, ";")
	prop := ical.NewProp(strings.ToUpper(parts[0]))
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter %q in %q", p, line)
		}
		prop.Params.Set(strings.ToUpper(k), strings.Trim(v, `"`))
	}
	prop.Value = value
	return prop, nil
}
