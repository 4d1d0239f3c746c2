package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "icssync/internal/log"
	"icssync/internal/model"
)

const (
	icsDateLayout     = "20060102"
	icsDateTimeLayout = "20060102T150405"
	recordDateLayout  = "2006-01-02"
	recordNaiveLayout = "2006-01-02T15:04:05"
)

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

// ParseICS converts an ICS payload into raw records, one per VEVENT. Floating
// times stay naive so they are later read in the configured zone; zoned
// times are written as RFC 3339. Overrides are only marked as candidates
// (RecurrenceID set); DetectOverrides decides the final flag.
//
// A VEVENT that cannot be converted is logged and skipped.
func ParseICS(body []byte, loc *time.Location) ([]model.RawRecord, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	events := cal.Events()
	records := make([]model.RawRecord, 0, len(events))
	for _, ve := range events {
		rec, err := parseVEvent(ve, loc)
		if err != nil {
			appLog.Warn("ics vevent skipped", "uid", rec.UID, "summary", rec.Name, "err", err)
			continue
		}
		records = append(records, rec)
	}

	appLog.Info("ics parse completed", "vevents", len(events), "records", len(records))
	return records, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.RawRecord, error) {
	var rec model.RawRecord

	rec.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	rec.Name = unescapeText(propValue(ve, ical.ComponentPropertySummary))
	rec.Description = unescapeText(propValue(ve, ical.ComponentPropertyDescription))
	rec.Location = unescapeText(propValue(ve, ical.ComponentPropertyLocation))
	rec.Status = propValue(ve, ical.ComponentPropertyStatus)
	rec.RecurrenceRule = propValue(ve, ical.ComponentPropertyRrule)

	if p := ve.GetProperty(ical.ComponentPropertyCreated); p != nil {
		rec.Created, _ = formatPropTime(p, loc)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLastModified); p != nil {
		rec.LastModified, _ = formatPropTime(p, loc)
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return rec, errors.New("missing DTSTART")
	}
	allDay := isDateValue(startProp)

	if allDay {
		start, err := time.ParseInLocation(icsDateLayout, strings.TrimSpace(startProp.Value), loc)
		if err != nil {
			return rec, fmt.Errorf("DTSTART: %w", err)
		}
		end := start.AddDate(0, 0, 1)
		if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
			if t, err := time.ParseInLocation(icsDateLayout, strings.TrimSpace(endProp.Value), loc); err == nil {
				end = t
			}
		}
		rec.Begin = start.Format(recordDateLayout)
		rec.End = end.Format(recordDateLayout)
	} else {
		begin, err := eventTime(func() (time.Time, error) { return ve.GetStartAt() }, startProp, loc)
		if err != nil {
			return rec, fmt.Errorf("DTSTART: %w", err)
		}
		rec.Begin = begin
		rec.End = begin
		if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
			end, err := eventTime(func() (time.Time, error) { return ve.GetEndAt() }, endProp, loc)
			if err != nil {
				return rec, fmt.Errorf("DTEND: %w", err)
			}
			rec.End = end
		}
	}

	// EXDATE may repeat and each may carry a list.
	var exdates []string
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := formatTimeValue(part, p.ICalParameters, loc)
			if err != nil {
				return rec, fmt.Errorf("EXDATE: %w", err)
			}
			exdates = append(exdates, v)
		}
	}
	rec.ExDate = strings.Join(exdates, ",")

	// Use raw property name to avoid constant mismatch.
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		v, err := formatPropTime(p, loc)
		if err != nil {
			return rec, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		rec.RecurrenceID = v
	}

	return rec, nil
}

// eventTime formats a DTSTART/DTEND value. TZIDs that are not IANA names
// are handed to the library, which may resolve them from the feed.
func eventTime(get func() (time.Time, error), p *ical.IANAProperty, loc *time.Location) (string, error) {
	if tzid, ok := tzidParam(p.ICalParameters); ok {
		if _, err := time.LoadLocation(tzid); err != nil {
			if t, err := get(); err == nil && !t.IsZero() {
				return t.Format(time.RFC3339), nil
			}
		}
	}
	return formatPropTime(p, loc)
}

func formatPropTime(p *ical.IANAProperty, loc *time.Location) (string, error) {
	return formatTimeValue(p.Value, p.ICalParameters, loc)
}

// formatTimeValue renders an iCalendar DATE or DATE-TIME as a record
// timestamp: dates as YYYY-MM-DD, UTC and TZID values as RFC 3339, floating
// values as naive ISO-8601.
func formatTimeValue(value string, params map[string][]string, loc *time.Location) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("empty time value")
	}

	if !strings.Contains(value, "T") {
		t, err := time.Parse(icsDateLayout, value)
		if err != nil {
			return "", err
		}
		return t.Format(recordDateLayout), nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(icsDateTimeLayout+"Z", value)
		if err != nil {
			return "", err
		}
		return t.Format(time.RFC3339), nil
	}

	if tzid, ok := tzidParam(params); ok {
		zone, err := time.LoadLocation(tzid)
		if err != nil {
			appLog.Debug("unknown TZID; using configured zone", "tzid", tzid)
			zone = loc
		}
		t, err := time.ParseInLocation(icsDateTimeLayout, value, zone)
		if err != nil {
			return "", err
		}
		return t.Format(time.RFC3339), nil
	}

	t, err := time.Parse(icsDateTimeLayout, value)
	if err != nil {
		return "", err
	}
	return t.Format(recordNaiveLayout), nil
}

func tzidParam(params map[string][]string) (string, bool) {
	if params == nil {
		return "", false
	}
	if v, ok := params["TZID"]; ok && len(v) > 0 && v[0] != "" {
		return strings.Trim(v[0], `"`), true
	}
	return "", false
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
