package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"icssync/internal/config"
	appLog "icssync/internal/log"
	"icssync/internal/pipeline"
)

// Syncer runs syncs and remembers the last result.
type Syncer interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Result, error)
	Last() *pipeline.Result
}

// Server provides the status API.
type Server struct {
	cfg    *config.Config
	syncer Syncer
	mux    *http.ServeMux
	// runCtx outlives individual requests so a disconnecting client does
	// not abort a sync halfway.
	runCtx context.Context
}

// NewServer constructs a new Server. Syncs started over HTTP stop when ctx
// is cancelled.
func NewServer(ctx context.Context, cfg *config.Config, syncer Syncer) *Server {
	s := &Server{
		cfg:    cfg,
		syncer: syncer,
		mux:    http.NewServeMux(),
		runCtx: ctx,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials leave auth disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icssync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the status API on cfg.Listen until ctx is cancelled,
// then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, syncer Syncer) error {
	s := NewServer(ctx, cfg, syncer)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/sync", s.handleSync)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	CalendarID   string           `json:"calendar_id"`
	Timezone     string           `json:"timezone"`
	Remote       string           `json:"remote"`
	StateBackend string           `json:"state_backend"`
	Refresh      string           `json:"refresh"`
	PurgeOrphans bool             `json:"purge_orphans"`
	Last         *pipeline.Result `json:"last"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		CalendarID:   s.cfg.CalendarID,
		Timezone:     s.cfg.Timezone,
		Remote:       s.cfg.Remote.Kind,
		StateBackend: s.cfg.State.Backend,
		Refresh:      s.cfg.RefreshCron,
		PurgeOrphans: s.cfg.PurgeOrphans,
		Last:         s.syncer.Last(),
	})
}

// handleSync runs one sync and returns its result.
//
// POST /api/sync?dry_run=1&calendar=<id>
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	opts := pipeline.RunOptions{
		DryRun:     parseBool(q.Get("dry_run")),
		CalendarID: q.Get("calendar"),
	}
	appLog.Info("api sync request", "dry_run", opts.DryRun, "calendar", opts.CalendarID)

	res, err := s.syncer.Run(s.runCtx, opts)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrCalendarOverride):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		if res == nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusBadGateway, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
