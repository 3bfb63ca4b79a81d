package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tazhate/taskreminder/internal/domain"
	"github.com/tazhate/taskreminder/internal/service"
)

// GET /api/tasks?status=&priority=&tags=a,b
func (s *Server) apiListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := service.TaskFilter{Status: domain.TaskStatus(q.Get("status"))}

	if p := q.Get("priority"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			s.jsonError(w, "Invalid priority", http.StatusBadRequest)
			return
		}
		filter.MinPriority = &n
	}
	if tags := q.Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}

	tasks := s.tasks.List(filter)
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	s.jsonResponse(w, tasks)
}

// POST /api/tasks
func (s *Server) apiCreateTask(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	task, err := s.tasks.Create(req)
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.jsonCreated(w, task)
}

func (s *Server) apiGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

// PUT /api/tasks/{id} - partial update, absent fields are kept
func (s *Server) apiUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateTaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	task, err := s.tasks.Update(r.PathValue("id"), req)
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

func (s *Server) apiDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.tasks.Delete(id); err != nil {
		s.taskError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"deleted": true, "task_id": id})
}

func (s *Server) apiCompleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Complete(r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

func (s *Server) apiUncompleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Uncomplete(r.PathValue("id"))
	if err != nil {
		s.taskError(w, err)
		return
	}
	s.jsonResponse(w, task)
}

func (s *Server) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		s.jsonError(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidTask):
		s.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("task API error", "error", err)
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}
