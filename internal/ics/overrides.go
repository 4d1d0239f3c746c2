package ics

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icssync/internal/log"
	"icssync/internal/model"
)

// DetectOverrides flags records that replace one occurrence of a recurring
// series. A record qualifies when it carries a RECURRENCE-ID, a record with
// the same UID defines an RRULE, and that rule (minus its EXDATEs) produces
// an occurrence on the RECURRENCE-ID's calendar day in loc.
//
// Records that name a RECURRENCE-ID but match no series stay unflagged and
// are synced as single events.
func DetectOverrides(records []model.RawRecord, loc *time.Location) []model.RawRecord {
	if loc == nil {
		loc = time.Local
	}

	masters := make(map[string]*rrule.Set)
	for _, rec := range records {
		if rec.UID == "" || strings.TrimSpace(rec.RecurrenceRule) == "" || rec.RecurrenceID != "" {
			continue
		}
		set, err := seriesSet(rec, loc)
		if err != nil {
			appLog.Warn("recurring series ignored for override detection", "uid", rec.UID, "rrule", rec.RecurrenceRule, "err", err)
			continue
		}
		masters[rec.UID] = set
	}

	out := make([]model.RawRecord, len(records))
	for i, rec := range records {
		out[i] = rec
		if rec.RecurrenceID == "" {
			continue
		}
		set, ok := masters[rec.UID]
		if !ok {
			appLog.Debug("recurrence id without series; treating as single", "uid", rec.UID, "recurrence_id", rec.RecurrenceID)
			continue
		}
		rid, err := parseRecordTime(rec.RecurrenceID, loc)
		if err != nil {
			appLog.Warn("unreadable recurrence id", "uid", rec.UID, "recurrence_id", rec.RecurrenceID, "err", err)
			continue
		}
		if occursOnDay(set, rid, loc) {
			out[i].IsRecurrenceException = true
			// An override never repeats on its own.
			out[i].RecurrenceRule = ""
		} else {
			appLog.Debug("recurrence id outside series window", "uid", rec.UID, "recurrence_id", rec.RecurrenceID)
		}
	}
	return out
}

func seriesSet(rec model.RawRecord, loc *time.Location) (*rrule.Set, error) {
	start, err := parseRecordTime(rec.Begin, loc)
	if err != nil {
		return nil, err
	}

	rule := strings.TrimSpace(rec.RecurrenceRule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, part := range strings.Split(rec.ExDate, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if ex, err := parseRecordTime(part, loc); err == nil {
			set.ExDate(ex)
		}
	}
	return set, nil
}

func occursOnDay(set *rrule.Set, t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return len(set.Between(dayStart, dayEnd, true)) > 0
}

// parseRecordTime reads the timestamp forms ParseICS writes.
func parseRecordTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	if t, err := time.ParseInLocation(recordNaiveLayout, s, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation(recordDateLayout, s, loc)
}
