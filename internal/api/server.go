package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tazhate/taskreminder/config"
	"github.com/tazhate/taskreminder/internal/domain"
	"github.com/tazhate/taskreminder/internal/service"
)

const (
	serviceName    = "Reminder Service"
	serviceVersion = "1.0.0"
)

// ReminderEngine is the part of the reminder service the HTTP layer drives.
type ReminderEngine interface {
	HandleInbound(ctx context.Context, ev *domain.InboundTaskEvent)
	List(ctx context.Context) ([]*domain.Reminder, error)
	Pending(ctx context.Context) ([]*domain.Reminder, error)
	ForTask(ctx context.Context, taskID string) ([]*domain.Reminder, error)
}

type ScanRunner interface {
	RunScan(ctx context.Context) int
	Running() bool
	ScanInterval() time.Duration
}

type Deps struct {
	Config    *config.Config
	Reminders ReminderEngine
	Scans     ScanRunner
	// Tasks is optional; without it the tasks API is not mounted.
	Tasks    *service.TaskService
	Backends []string
	Log      *slog.Logger
}

type Server struct {
	cfg       *config.Config
	reminders ReminderEngine
	scans     ScanRunner
	tasks     *service.TaskService
	backends  []string
	log       *slog.Logger
	now       func() time.Time
	server    *http.Server
}

func New(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		reminders: d.Reminders,
		scans:     d.Scans,
		tasks:     d.Tasks,
		backends:  d.Backends,
		log:       d.Log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handler registers every route on a fresh mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Event plumbing
	mux.HandleFunc("POST /events/task", s.handleTaskEvent)
	mux.HandleFunc("GET /dapr/subscribe", s.handleSubscribe)
	mux.HandleFunc("POST /reminder-cron", s.handleCron)

	// Health & info
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	// Debug (development only)
	mux.HandleFunc("GET /debug/reminders", s.basicAuth(s.handleDebugReminders))
	mux.HandleFunc("POST /debug/trigger", s.basicAuth(s.handleDebugTrigger))

	mux.HandleFunc("GET /reminders.ics", s.basicAuth(s.handleICSFeed))
	mux.HandleFunc("GET /api/reminders", s.basicAuth(s.apiReminders))

	if s.tasks != nil {
		mux.HandleFunc("GET /api/tasks", s.basicAuth(s.apiListTasks))
		mux.HandleFunc("POST /api/tasks", s.basicAuth(s.apiCreateTask))
		mux.HandleFunc("GET /api/tasks/{id}", s.basicAuth(s.apiGetTask))
		mux.HandleFunc("PUT /api/tasks/{id}", s.basicAuth(s.apiUpdateTask))
		mux.HandleFunc("DELETE /api/tasks/{id}", s.basicAuth(s.apiDeleteTask))
		mux.HandleFunc("PATCH /api/tasks/{id}/complete", s.basicAuth(s.apiCompleteTask))
		mux.HandleFunc("PATCH /api/tasks/{id}/uncomplete", s.basicAuth(s.apiUncompleteTask))
	}

	return mux
}

func (s *Server) Start() {
	s.server = &http.Server{
		Addr:              ":" + s.cfg.ServerPort,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info("starting HTTP server", "port", s.cfg.ServerPort)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// basicAuth guards a handler when API credentials are configured.
func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.APIAuthEnabled() {
			next(w, r)
			return
		}
		username, password, ok := r.BasicAuth()
		if !ok || username != s.cfg.APIUsername || password != s.cfg.APIPassword {
			w.Header().Set("WWW-Authenticate", `Basic realm="Reminder API"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
