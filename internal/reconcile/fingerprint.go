package reconcile

import (
	"bytes"
	"encoding/json"
	"time"

	"icssync/internal/model"
)

// Fingerprinter hashes the display-relevant fields of an event. Switching
// IncludeDescription invalidates every stored fingerprint and forces one
// full re-sync, so it must stay fixed for a calendar.
type Fingerprinter struct {
	IncludeDescription bool
}

// Fingerprint encodes summary, location, start, end, the recurrence rule and
// optionally the description as JSON with sorted keys, then digests it.
func (f Fingerprinter) Fingerprint(ev model.CalendarEvent) string {
	content := map[string]any{
		"summary":  ev.Name,
		"location": nullable(ev.Location),
		"start":    ev.Begin.Format(time.RFC3339),
		"end":      ev.End.Format(time.RFC3339),
		"rrule":    nil,
	}
	if ev.RecurrenceRule != "" {
		content["rrule"] = rrulePrefix + ev.RecurrenceRule
	}
	if f.IncludeDescription {
		content["description"] = nullable(ev.Description)
	}

	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		// Only strings and nil are encoded; this cannot fail.
		panic(err)
	}
	return digest(string(bytes.TrimRight(buf.Bytes(), "\n")))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
