package model

import "time"

// RawRecord is one event as produced by the ICS-to-records conversion and
// stored in the records JSON file. Timestamps are kept as strings; they are
// interpreted by the reconcile package against the configured zone.
type RawRecord struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	Begin        string `json:"begin"`
	End          string `json:"end"`
	Created      string `json:"created,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	Location     string `json:"location,omitempty"`
	Description  string `json:"description,omitempty"`
	Status       string `json:"status,omitempty"`

	// RecurrenceRule is a single RRULE expression, with or without the
	// "RRULE:" prefix.
	RecurrenceRule string `json:"recurrence_rules,omitempty"`
	// ExDate is a comma separated list of excluded occurrence timestamps.
	ExDate string `json:"exdate,omitempty"`

	// IsRecurrenceException is set by the conversion stage when this record
	// overrides one occurrence of another record's series.
	IsRecurrenceException bool   `json:"is_recurrence_exception,omitempty"`
	RecurrenceID          string `json:"recurrence_id,omitempty"`
}

// EventClass partitions events for identifier derivation and apply order.
type EventClass int

const (
	ClassSingle EventClass = iota
	ClassRecurringMaster
	ClassRecurrenceOverride
)

func (c EventClass) String() string {
	switch c {
	case ClassSingle:
		return "single"
	case ClassRecurringMaster:
		return "recurring"
	case ClassRecurrenceOverride:
		return "override"
	default:
		return "unknown"
	}
}

// CalendarEvent is the typed, classified form of a RawRecord. Begin, End,
// ExceptionDates and OverrideOriginalStart are expressed in the configured
// zone.
type CalendarEvent struct {
	UID         string
	Name        string
	Description string
	Location    string

	Begin time.Time
	End   time.Time

	RecurrenceRule string
	ExceptionDates []time.Time

	IsOverride            bool
	OverrideOriginalStart time.Time

	Class EventClass
}

// IdentityKey is the UID, or the name when the UID is empty.
func (e CalendarEvent) IdentityKey() string {
	if e.UID != "" {
		return e.UID
	}
	return e.Name
}

// EventTime is either a date (all-day) or a zoned date-time.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// RemoteEvent is the gateway-neutral body inserted into a remote calendar.
type RemoteEvent struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start EventTime `json:"start"`
	End   EventTime `json:"end"`

	// Recurrence holds one RRULE line followed by EXDATE lines.
	Recurrence []string `json:"recurrence,omitempty"`

	RecurringEventID  string     `json:"recurringEventId,omitempty"`
	OriginalStartTime *EventTime `json:"originalStartTime,omitempty"`
}

// AllDay reports whether the event uses date-only fields.
func (e RemoteEvent) AllDay() bool {
	return e.Start.Date != ""
}
