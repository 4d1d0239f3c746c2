package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	appLog "icssync/internal/log"
	"icssync/internal/model"
)

const (
	defaultWindowBack    = 365 * 24 * time.Hour
	defaultWindowForward = 365 * 24 * time.Hour
)

// Options is the immutable engine configuration for one calendar.
type Options struct {
	CalendarID string
	Location   *time.Location

	// WindowBack / WindowForward bound the remote listing around now. Remote
	// events outside the window are treated as absent.
	WindowBack    time.Duration
	WindowForward time.Duration

	IncludeDescription bool

	// PurgeOrphans deletes remote events whose identifier was synced by the
	// previous run but is absent from the current feed.
	PurgeOrphans bool

	// ResetCorruptState continues with an empty prior state when the
	// persisted state cannot be read.
	ResetCorruptState bool

	// DryRun plans without mutating the remote calendar or the state.
	DryRun bool

	Now func() time.Time
}

// Reconciler applies the minimal set of remote mutations for one calendar.
type Reconciler struct {
	opts    Options
	gateway Gateway
	store   StateStore
	fp      Fingerprinter
	render  Renderer
}

// New constructs a Reconciler.
func New(opts Options, gateway Gateway, store StateStore) *Reconciler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.WindowBack <= 0 {
		opts.WindowBack = defaultWindowBack
	}
	if opts.WindowForward <= 0 {
		opts.WindowForward = defaultWindowForward
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		opts:    opts,
		gateway: gateway,
		store:   store,
		fp:      Fingerprinter{IncludeDescription: opts.IncludeDescription},
		render:  Renderer{CalendarID: opts.CalendarID, Location: opts.Location},
	}
}

// Order returns events sorted into apply phases: singles, then recurring
// masters, then overrides. Feed order is kept within a phase.
func Order(events []model.CalendarEvent) []model.CalendarEvent {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b model.CalendarEvent) int {
		return int(a.Class) - int(b.Class)
	})
	return out
}

// Run reconciles events against the remote calendar and persists the new
// fingerprint map. Listing and state failures abort before any mutation;
// per-event mutation failures are collected in the report.
//
// A cancelled ctx stops the run between events without saving state, which
// leaves the next run to re-evaluate everything against the old state.
func (r *Reconciler) Run(ctx context.Context, events []model.CalendarEvent) (*Report, error) {
	cal := r.opts.CalendarID
	report := &Report{
		CalendarID: cal,
		DryRun:     r.opts.DryRun,
		StartedAt:  r.opts.Now(),
	}

	prior, err := r.store.Load(ctx, cal)
	if err != nil {
		if !r.opts.ResetCorruptState {
			return nil, fmt.Errorf("load sync state for %s: %w", cal, err)
		}
		appLog.Warn("sync state unreadable; starting from empty state", "calendar", cal, "err", err)
		prior = map[string]string{}
	}

	now := r.opts.Now()
	ids, err := r.gateway.List(ctx, cal, now.Add(-r.opts.WindowBack), now.Add(r.opts.WindowForward))
	if err != nil {
		if errors.Is(err, model.ErrAuth) || errors.Is(err, model.ErrRemoteList) {
			return nil, fmt.Errorf("list %s: %w", cal, err)
		}
		return nil, fmt.Errorf("list %s: %w: %w", cal, model.ErrRemoteList, err)
	}
	remote := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remote[id] = struct{}{}
	}

	appLog.Info("reconcile start",
		"calendar", cal,
		"events", len(events),
		"remote_events", len(remote),
		"prior_state", len(prior),
		"dry_run", r.opts.DryRun,
	)

	next := make(map[string]string, len(events))
	for _, ev := range Order(events) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("reconcile %s interrupted: %w", cal, err)
		}
		r.apply(ctx, ev, prior, next, remote, report)
	}

	if r.opts.PurgeOrphans {
		r.purge(ctx, prior, next, remote, report)
	}

	if !r.opts.DryRun {
		if err := r.store.Save(ctx, cal, next); err != nil {
			return report, fmt.Errorf("save sync state for %s: %w", cal, err)
		}
	}

	report.FinishedAt = r.opts.Now()
	appLog.Info("reconcile completed",
		"calendar", cal,
		"added", report.Added,
		"replaced", report.Replaced,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"purged", report.Purged,
	)
	return report, nil
}

func (r *Reconciler) apply(ctx context.Context, ev model.CalendarEvent, prior, next map[string]string, remote map[string]struct{}, report *Report) {
	cal := r.opts.CalendarID
	id := DeriveID(cal, ev)
	fp := r.fp.Fingerprint(ev)
	next[id] = fp

	if old, ok := prior[id]; ok && old == fp {
		report.Skipped++
		report.record(ev, id, OutcomeSkipped)
		appLog.Debug("unchanged event skipped", "calendar", cal, "event_id", id, "summary", ev.Name)
		return
	}

	_, exists := remote[id]
	if r.opts.DryRun {
		report.record(ev, id, OutcomePlanned)
		appLog.Info("dry run: would write event", "calendar", cal, "event_id", id, "summary", ev.Name, "replace", exists)
		return
	}

	body := r.render.Render(ev, id)
	replaced := false
	if exists {
		if err := r.gateway.Delete(ctx, cal, id); err != nil {
			report.Errors = append(report.Errors, mutationError("delete", id, ev, err))
			appLog.Warn("delete before replace failed", "calendar", cal, "event_id", id, "summary", ev.Name, "uid", ev.UID, "err", err)
		} else {
			replaced = true
			report.Replaced++
			delete(remote, id)
			appLog.Info("existing event deleted for replacement", "calendar", cal, "event_id", id, "summary", ev.Name)
		}
	}

	if _, err := r.gateway.Insert(ctx, cal, body); err != nil {
		report.Failed++
		report.Errors = append(report.Errors, mutationError("insert", id, ev, err))
		report.record(ev, id, OutcomeFailed)
		appLog.Error("insert event failed", err, "calendar", cal, "event_id", id, "summary", ev.Name, "uid", ev.UID)
		return
	}

	remote[id] = struct{}{}
	report.Added++
	if replaced {
		report.record(ev, id, OutcomeReplaced)
	} else {
		report.record(ev, id, OutcomeInserted)
	}
	appLog.Info("event inserted", "calendar", cal, "event_id", id, "summary", ev.Name, "class", ev.Class.String())
}

// purge deletes identifiers that were synced before, are gone from the feed
// and still exist remotely.
func (r *Reconciler) purge(ctx context.Context, prior, next map[string]string, remote map[string]struct{}, report *Report) {
	cal := r.opts.CalendarID
	orphans := make([]string, 0)
	for id := range prior {
		if _, kept := next[id]; kept {
			continue
		}
		if _, ok := remote[id]; ok {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)

	for _, id := range orphans {
		orphan := model.CalendarEvent{}
		if r.opts.DryRun {
			report.record(orphan, id, OutcomePlanned)
			appLog.Info("dry run: would purge orphaned event", "calendar", cal, "event_id", id)
			continue
		}
		if err := r.gateway.Delete(ctx, cal, id); err != nil {
			report.Errors = append(report.Errors, mutationError("purge", id, orphan, err))
			appLog.Warn("purge orphaned event failed", "calendar", cal, "event_id", id, "err", err)
			continue
		}
		delete(remote, id)
		report.Purged++
		report.record(orphan, id, OutcomePurged)
		appLog.Info("orphaned event purged", "calendar", cal, "event_id", id)
	}
}

func mutationError(op, id string, ev model.CalendarEvent, err error) *model.EventError {
	return &model.EventError{
		Kind:     model.MutationFailure,
		Op:       op,
		EventID:  id,
		Identity: ev.IdentityKey(),
		Err:      err,
	}
}
