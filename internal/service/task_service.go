package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/taskreminder/internal/domain"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

const (
	eventQueueSize = 256
	publishTimeout = 15 * time.Second
)

// TaskEventPublisher publishes task lifecycle events.
type TaskEventPublisher interface {
	PublishTaskEvent(ctx context.Context, eventType domain.TaskEventType, taskID, userID string, payload map[string]any, correlationID string) bool
}

type CreateTaskInput struct {
	UserID         string   `json:"user_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	DueDate        string   `json:"due_date"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags"`
	ReminderBefore int      `json:"reminder_before"`
}

// UpdateTaskInput holds a partial update. Nil fields are left unchanged.
type UpdateTaskInput struct {
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	DueDate        *string   `json:"due_date"`
	Priority       *int      `json:"priority"`
	Tags           *[]string `json:"tags"`
	ReminderBefore *int      `json:"reminder_before"`
}

type TaskFilter struct {
	Status      domain.TaskStatus
	MinPriority *int
	Tags        []string // any match
}

type queuedEvent struct {
	eventType     domain.TaskEventType
	taskID        string
	userID        string
	payload       map[string]any
	correlationID string
}

// TaskService is an in-memory task repository. Every mutation emits task
// events; they are published in order by a background worker and a publish
// failure never fails the mutation.
type TaskService struct {
	publisher TaskEventPublisher
	log       *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	tasks map[string]*domain.Task

	queueMu sync.RWMutex
	queue   chan queuedEvent
	pending sync.WaitGroup
	done    chan struct{}
	closed  bool
}

func NewTaskService(publisher TaskEventPublisher, log *slog.Logger) *TaskService {
	s := &TaskService{
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		tasks:     make(map[string]*domain.Task),
		queue:     make(chan queuedEvent, eventQueueSize),
		done:      make(chan struct{}),
	}
	go s.publishLoop()
	return s
}

func (s *TaskService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *TaskService) publishLoop() {
	defer close(s.done)
	for ev := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if !s.publisher.PublishTaskEvent(ctx, ev.eventType, ev.taskID, ev.userID, ev.payload, ev.correlationID) {
			s.log.Warn("task event not published", "type", ev.eventType, "task_id", ev.taskID)
		}
		cancel()
		s.pending.Done()
	}
}

// emit queues events of one mutation under a shared correlation id. Callers
// hold s.mu, so events are queued in the order the mutations were applied.
func (s *TaskService) emit(events ...queuedEvent) {
	corr := uuid.NewString()

	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		s.log.Warn("task service closed, dropping events", "count", len(events))
		return
	}

	for _, ev := range events {
		ev.correlationID = corr
		s.pending.Add(1)
		s.queue <- ev
	}
}

// Flush blocks until every queued event has been handed to the publisher.
func (s *TaskService) Flush() {
	s.pending.Wait()
}

// Close publishes what is queued and stops the worker.
func (s *TaskService) Close() {
	s.queueMu.Lock()
	if s.closed {
		s.queueMu.Unlock()
		return
	}
	s.closed = true
	s.queueMu.Unlock()

	s.pending.Wait()
	close(s.queue)
	<-s.done
}

func (s *TaskService) Create(in CreateTaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidTask)
	}
	if in.ReminderBefore < 0 {
		return nil, fmt.Errorf("%w: reminder_before must not be negative", ErrInvalidTask)
	}
	dueDate, err := normalizeDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	userID := in.UserID
	if userID == "" {
		userID = domain.AnonymousUser
	}

	now := s.now()
	task := &domain.Task{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          title,
		Description:    in.Description,
		DueDate:        dueDate,
		Priority:       in.Priority,
		Tags:           nonNilTags(in.Tags),
		ReminderBefore: in.ReminderBefore,
		Status:         domain.TaskStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	out := task.Clone()
	s.emit(queuedEvent{
		eventType: domain.TaskCreated,
		taskID:    task.ID,
		userID:    userID,
		payload: map[string]any{
			"title":           task.Title,
			"description":     task.Description,
			"due_date":        dueDateValue(task.DueDate),
			"priority":        task.Priority,
			"tags":            task.Tags,
			"reminder_before": task.ReminderBefore,
		},
	})
	s.mu.Unlock()

	s.log.Info("task created", "task_id", task.ID)
	return out, nil
}

func (s *TaskService) Get(id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List returns tasks matching f, oldest first.
func (s *TaskService) List(f TaskFilter) []*domain.Task {
	s.mu.RLock()
	var out []*domain.Task
	for _, t := range s.tasks {
		if f.matches(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (f TaskFilter) matches(t *domain.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.MinPriority != nil && t.Priority < *f.MinPriority {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(tag string) bool {
		return slices.Contains(t.Tags, tag)
	}) {
		return false
	}
	return true
}

// Update applies in and emits task.updated with the changed fields, plus the
// specific due date, priority and tags events.
func (s *TaskService) Update(id string, in UpdateTaskInput) (*domain.Task, error) {
	var newDue *string
	if in.DueDate != nil {
		d, err := normalizeDueDate(*in.DueDate)
		if err != nil {
			return nil, err
		}
		newDue = d
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidTask)
	}
	if in.ReminderBefore != nil && *in.ReminderBefore < 0 {
		return nil, fmt.Errorf("%w: reminder_before must not be negative", ErrInvalidTask)
	}

	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	old := task.Clone()

	changes := map[string]any{}
	if in.Title != nil && strings.TrimSpace(*in.Title) != old.Title {
		task.Title = strings.TrimSpace(*in.Title)
		changes["title"] = change(old.Title, task.Title)
	}
	if in.Description != nil && *in.Description != old.Description {
		task.Description = *in.Description
		changes["description"] = change(old.Description, task.Description)
	}
	if in.DueDate != nil && dueDateValue(newDue) != dueDateValue(old.DueDate) {
		task.DueDate = newDue
		changes["due_date"] = change(dueDateValue(old.DueDate), dueDateValue(newDue))
	}
	if in.Priority != nil && *in.Priority != old.Priority {
		task.Priority = *in.Priority
		changes["priority"] = change(old.Priority, task.Priority)
	}
	if in.Tags != nil && !slices.Equal(*in.Tags, old.Tags) {
		task.Tags = nonNilTags(*in.Tags)
		changes["tags"] = change(old.Tags, task.Tags)
	}
	if in.ReminderBefore != nil && *in.ReminderBefore != old.ReminderBefore {
		task.ReminderBefore = *in.ReminderBefore
		changes["reminder_before"] = change(old.ReminderBefore, task.ReminderBefore)
	}
	if len(changes) > 0 {
		task.UpdatedAt = s.now()
	}
	out := task.Clone()
	if len(changes) == 0 {
		s.mu.Unlock()
		return out, nil
	}

	evs := []queuedEvent{{
		eventType: domain.TaskUpdated,
		taskID:    id,
		userID:    out.UserID,
		payload:   map[string]any{"changes": changes},
	}}

	_, dueChanged := changes["due_date"]
	_, leadChanged := changes["reminder_before"]
	if dueChanged || (leadChanged && out.DueDate != nil) {
		evType := domain.TaskDueDateChanged
		if old.DueDate == nil {
			evType = domain.TaskDueDateSet
		}
		evs = append(evs, queuedEvent{
			eventType: evType,
			taskID:    id,
			userID:    out.UserID,
			payload: map[string]any{
				"old_due_date":    dueDateValue(old.DueDate),
				"new_due_date":    dueDateValue(out.DueDate),
				"reminder_before": out.ReminderBefore,
				"title":           out.Title,
				"priority":        out.Priority,
			},
		})
	}
	if _, ok := changes["priority"]; ok {
		evs = append(evs, queuedEvent{
			eventType: domain.TaskPriorityChanged,
			taskID:    id,
			userID:    out.UserID,
			payload:   map[string]any{"old_priority": old.Priority, "new_priority": out.Priority},
		})
	}
	if _, ok := changes["tags"]; ok {
		evs = append(evs, queuedEvent{
			eventType: domain.TaskTagsUpdated,
			taskID:    id,
			userID:    out.UserID,
			payload:   map[string]any{"old_tags": old.Tags, "new_tags": out.Tags},
		})
	}
	s.emit(evs...)
	s.mu.Unlock()

	s.log.Info("task updated", "task_id", id, "changes", len(changes))
	return out, nil
}

// Complete marks the task completed. Completing a completed task is a no-op.
func (s *TaskService) Complete(id string) (*domain.Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.IsDone() {
		out := task.Clone()
		s.mu.Unlock()
		return out, nil
	}

	now := s.now()
	wasOverdue := task.IsOverdue(now)
	hours := now.Sub(task.CreatedAt).Hours()
	task.Status = domain.TaskStatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	out := task.Clone()
	s.emit(queuedEvent{
		eventType: domain.TaskCompleted,
		taskID:    id,
		userID:    out.UserID,
		payload: map[string]any{
			"completed_at":           now.Format(time.RFC3339),
			"was_overdue":            wasOverdue,
			"time_to_complete_hours": hours,
		},
	})
	s.mu.Unlock()

	s.log.Info("task completed", "task_id", id, "was_overdue", wasOverdue)
	return out, nil
}

// Uncomplete reopens a completed task. Reopening a pending task is a no-op.
func (s *TaskService) Uncomplete(id string) (*domain.Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if !task.IsDone() {
		out := task.Clone()
		s.mu.Unlock()
		return out, nil
	}

	now := s.now()
	task.Status = domain.TaskStatusPending
	task.CompletedAt = nil
	task.UpdatedAt = now
	out := task.Clone()
	s.emit(queuedEvent{
		eventType: domain.TaskUncompleted,
		taskID:    id,
		userID:    out.UserID,
		payload:   map[string]any{"uncompleted_at": now.Format(time.RFC3339)},
	})
	s.mu.Unlock()

	s.log.Info("task uncompleted", "task_id", id)
	return out, nil
}

func (s *TaskService) Delete(id string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	s.emit(queuedEvent{
		eventType: domain.TaskDeleted,
		taskID:    id,
		userID:    task.UserID,
		payload: map[string]any{
			"title":         task.Title,
			"was_completed": task.IsDone(),
		},
	})
	s.mu.Unlock()

	s.log.Info("task deleted", "task_id", id)
	return nil
}

// normalizeDueDate validates a due date and stores it as RFC3339 UTC. An empty
// string clears the due date.
func normalizeDueDate(s string) (*string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := domain.ParseTimestamp(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	formatted := t.Format(time.RFC3339)
	return &formatted, nil
}

// dueDateValue is the payload form of a due date: the string, or nil.
func dueDateValue(d *string) any {
	if d == nil {
		return nil
	}
	return *d
}

func change(from, to any) map[string]any {
	return map[string]any{"old": from, "new": to}
}

func nonNilTags(tags []string) []string {
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
