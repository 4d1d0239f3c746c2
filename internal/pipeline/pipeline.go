package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"icssync/internal/caldav"
	"icssync/internal/config"
	"icssync/internal/gcal"
	"icssync/internal/ics"
	appLog "icssync/internal/log"
	"icssync/internal/model"
	"icssync/internal/reconcile"
	"icssync/internal/state"
)

var (
	// ErrBusy is returned when a sync is requested while another is running.
	ErrBusy = errors.New("a sync run is already in progress")

	// ErrCalendarOverride is returned when a run names a calendar the
	// configured remote cannot address separately.
	ErrCalendarOverride = errors.New("calendar override not supported")
)

// RunOptions adjusts a single run.
type RunOptions struct {
	DryRun bool
	// CalendarID overrides the configured calendar for this run.
	CalendarID string
}

// Result describes one completed (or failed) sync run.
type Result struct {
	RunID       string            `json:"run_id"`
	CalendarID  string            `json:"calendar_id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	FromCache   bool              `json:"from_cache"`
	Records     int               `json:"records"`
	ParseErrors []string          `json:"parse_errors,omitempty"`
	Report      *reconcile.Report `json:"report,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
	Err         string            `json:"error,omitempty"`
}

// Deps overrides collaborators normally built from the configuration.
type Deps struct {
	HTTPClient *http.Client
	Gateway    reconcile.Gateway
	Store      reconcile.StateStore
}

// Runner executes sync runs one at a time.
type Runner struct {
	cfg     *config.Config
	fetcher *ics.Fetcher

	runMu      sync.Mutex
	gateway    reconcile.Gateway
	ownGateway bool
	store      reconcile.StateStore
	closers    []func() error

	lastMu sync.RWMutex
	last   *Result
}

// NewRunner creates a Runner for cfg.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	return &Runner{
		cfg:     cfg,
		fetcher: ics.NewFetcher(deps.HTTPClient, cfg.CacheDir()),
		gateway: deps.Gateway,
		store:   deps.Store,
	}
}

// Last returns the most recent run result, or nil before the first run.
func (r *Runner) Last() *Result {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	return r.last
}

// Close releases the state store.
func (r *Runner) Close() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Run performs one sync: obtain records, normalize them, reconcile against
// the remote calendar. It returns ErrBusy if a run is already active.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if !r.runMu.TryLock() {
		return nil, ErrBusy
	}
	defer r.runMu.Unlock()

	res := &Result{
		RunID:      uuid.NewString(),
		CalendarID: r.cfg.CalendarID,
		StartedAt:  time.Now(),
	}
	if opts.CalendarID != "" {
		res.CalendarID = opts.CalendarID
	}

	err := r.run(ctx, opts, res)
	res.FinishedAt = time.Now()
	if err != nil {
		res.Err = err.Error()
		appLog.Error("sync run failed", err, "run_id", res.RunID, "calendar", res.CalendarID)
	} else {
		appLog.Info("sync run completed",
			"run_id", res.RunID,
			"calendar", res.CalendarID,
			"records", res.Records,
			"parse_errors", len(res.ParseErrors),
			"duration", res.FinishedAt.Sub(res.StartedAt).String(),
		)
	}

	r.lastMu.Lock()
	r.last = res
	r.lastMu.Unlock()
	return res, err
}

func (r *Runner) run(ctx context.Context, opts RunOptions, res *Result) error {
	// A CalDAV gateway writes every calendar id into the same collection;
	// ids and state derived from another calendar id would duplicate events.
	if res.CalendarID != r.cfg.CalendarID && r.cfg.Remote.Kind == "caldav" {
		return fmt.Errorf("%w: remote %q is bound to calendar %q", ErrCalendarOverride, r.cfg.CalDAV.URL, r.cfg.CalendarID)
	}

	loc := r.cfg.Location()
	appLog.Info("sync run start", "run_id", res.RunID, "calendar", res.CalendarID, "dry_run", opts.DryRun)

	records, err := r.records(ctx, loc, res)
	if err != nil {
		return err
	}
	res.Records = len(records)

	events, parseErrs := reconcile.Partition(reconcile.Normalize(records, loc))
	for _, pe := range parseErrs {
		res.ParseErrors = append(res.ParseErrors, pe.Error())
		appLog.Warn("record skipped", "run_id", res.RunID, "calendar", res.CalendarID, "uid", pe.Identity, "err", pe.Err)
	}

	gw, err := r.ensureGateway(ctx)
	if err != nil {
		return err
	}
	store, err := r.ensureStore(ctx)
	if err != nil {
		return err
	}

	engine := r.cfg.Engine()
	engine.CalendarID = res.CalendarID
	engine.DryRun = opts.DryRun

	report, err := reconcile.New(engine, gw, store).Run(ctx, events)
	res.Report = report
	if report != nil {
		res.Errors = report.ErrorMessages()
	}
	if errors.Is(err, model.ErrAuth) && r.ownGateway {
		// Rebuild credentials on the next run.
		r.gateway = nil
	}
	return err
}

// records fetches and converts the feed, or reads the records file when no
// feed is configured.
func (r *Runner) records(ctx context.Context, loc *time.Location, res *Result) ([]model.RawRecord, error) {
	path := r.cfg.RecordsPath()
	if r.cfg.ICSURL == "" {
		records, err := ics.LoadRecords(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrRecordIO, err)
		}
		return records, nil
	}

	fetched, err := r.fetcher.Fetch(ctx, r.cfg.ICSURL)
	if err != nil {
		return nil, err
	}
	res.FromCache = fetched.FromCache

	records, err := ics.ParseICS(fetched.Body, loc)
	if err != nil {
		return nil, err
	}
	records = ics.DetectOverrides(records, loc)

	if err := ics.SaveRecords(path, records); err != nil {
		// The records file is an export; the run proceeds without it.
		appLog.Error("records file not written", err, "run_id", res.RunID, "path", path)
	}
	return records, nil
}

func (r *Runner) ensureGateway(ctx context.Context) (reconcile.Gateway, error) {
	if r.gateway != nil {
		return r.gateway, nil
	}

	switch r.cfg.Remote.Kind {
	case "caldav":
		gw, err := caldav.NewGateway(r.cfg.CalDAV.URL, r.cfg.CalDAV.Username, r.cfg.CalDAV.Password)
		if err != nil {
			return nil, err
		}
		r.gateway = gw
	default:
		g := r.cfg.Google
		client, err := gcal.Authenticate(ctx, g.CredentialsFile, g.TokenFile, g.Scopes...)
		if err != nil {
			return nil, err
		}
		gw, err := gcal.NewGateway(ctx, client)
		if err != nil {
			return nil, err
		}
		r.gateway = gw
	}
	r.ownGateway = true
	return r.gateway, nil
}

func (r *Runner) ensureStore(ctx context.Context) (reconcile.StateStore, error) {
	if r.store != nil {
		return r.store, nil
	}

	switch r.cfg.State.Backend {
	case "sqlite":
		s, err := state.OpenSQLite(ctx, r.cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, s.Close)
		r.store = s
	default:
		r.store = state.NewFileStore(r.cfg.DataDir)
	}
	return r.store, nil
}
