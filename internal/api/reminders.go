package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tazhate/taskreminder/internal/clients/caldav"
	"github.com/tazhate/taskreminder/internal/domain"
)

const maxEventBody = 1 << 20

type subscription struct {
	PubSubName string `json:"pubsubname"`
	Topic      string `json:"topic"`
	Route      string `json:"route"`
}

// POST /events/task - task events pushed by the sidecar. The answer is always
// the same acknowledgement, whatever happened to the event.
func (s *Server) handleTaskEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		s.log.Error("read task event", "error", err)
	} else if ev, err := domain.ParseCloudEvent(body); err != nil {
		s.log.Error("malformed task event", "error", err)
	} else {
		s.reminders.HandleInbound(context.WithoutCancel(r.Context()), ev)
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// GET /dapr/subscribe - sidecar subscription discovery
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, []subscription{{
		PubSubName: s.cfg.PubSubName,
		Topic:      s.cfg.TaskEventsTopic,
		Route:      "/events/task",
	}})
}

// POST /reminder-cron - synchronous scan for external cron integrations
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	s.scans.RunScan(context.WithoutCancel(r.Context()))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "processed",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":       serviceName,
		"version":       serviceVersion,
		"status":        "running",
		"cron_interval": s.scans.ScanInterval().String(),
		"backends":      s.backends,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"scheduler_running": s.scans.Running(),
		"timestamp":         s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

// GET /debug/reminders - every tracked reminder
func (s *Server) handleDebugReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := s.reminders.List(r.Context())
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reminders == nil {
		reminders = []*domain.Reminder{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(reminders),
		"reminders": reminders,
	})
}

// POST /debug/trigger - force a scan
func (s *Server) handleDebugTrigger(w http.ResponseWriter, r *http.Request) {
	fired := s.scans.RunScan(context.WithoutCancel(r.Context()))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "triggered",
		"fired":  fired,
	})
}

// GET /api/reminders?task_id=&status=
func (s *Server) apiReminders(w http.ResponseWriter, r *http.Request) {
	var (
		reminders []*domain.Reminder
		err       error
	)
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		reminders, err = s.reminders.ForTask(r.Context(), taskID)
	} else {
		reminders, err = s.reminders.List(r.Context())
	}
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := domain.ReminderStatus(r.URL.Query().Get("status"))
	out := make([]*domain.Reminder, 0, len(reminders))
	for _, rem := range reminders {
		if status == "" || rem.Status == status {
			out = append(out, rem)
		}
	}
	s.jsonResponse(w, out)
}

// GET /reminders.ics - pending reminders as an iCalendar feed
func (s *Server) handleICSFeed(w http.ResponseWriter, r *http.Request) {
	pending, err := s.reminders.Pending(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(pending) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	events := make([]*caldav.Event, 0, len(pending))
	for _, rem := range pending {
		events = append(events, caldav.ReminderEvent(rem))
	}

	var buf bytes.Buffer
	if err := caldav.Encode(&buf, caldav.NewFeed("Task reminders", events, s.now())); err != nil {
		s.log.Error("encode reminder feed", "error", err)
		http.Error(w, "failed to encode calendar", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="reminders.ics"`)
	w.Write(buf.Bytes())
}
