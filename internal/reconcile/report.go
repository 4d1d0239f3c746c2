package reconcile

import (
	"time"

	"icssync/internal/model"
)

// Outcome is what happened to one event during a run.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"
	OutcomeInserted Outcome = "inserted"
	OutcomeReplaced Outcome = "replaced"
	OutcomeFailed   Outcome = "failed"
	// OutcomePlanned marks a mutation that a dry run would have issued.
	OutcomePlanned Outcome = "planned"
	OutcomePurged  Outcome = "purged"
)

// Action records the decision for one event.
type Action struct {
	EventID string           `json:"event_id"`
	Summary string           `json:"summary"`
	Class   model.EventClass `json:"-"`
	Kind    string           `json:"class"`
	Outcome Outcome          `json:"outcome"`
}

// Report summarizes one reconciliation run.
type Report struct {
	CalendarID string    `json:"calendar_id"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Added    int `json:"added"`
	Skipped  int `json:"skipped"`
	Replaced int `json:"replaced"`
	Failed   int `json:"failed"`
	Purged   int `json:"purged"`

	Actions []Action            `json:"actions,omitempty"`
	Errors  []*model.EventError `json:"-"`
}

func (r *Report) record(ev model.CalendarEvent, id string, o Outcome) {
	r.Actions = append(r.Actions, Action{
		EventID: id,
		Summary: ev.Name,
		Class:   ev.Class,
		Kind:    ev.Class.String(),
		Outcome: o,
	})
}

// ErrorMessages renders the recoverable failures for display.
func (r *Report) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}
