package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tazhate/taskreminder/internal/clients/caldav"
	"github.com/tazhate/taskreminder/internal/domain"
	"github.com/tazhate/taskreminder/internal/events"
	"github.com/tazhate/taskreminder/internal/storage"
)

const (
	defaultCreatedTitle = "Untitled Task"
	defaultChangedTitle = "Task"
)

var (
	ErrInvalidDueDate     = errors.New("invalid due date")
	ErrInvalidLeadMinutes = errors.New("reminder_before must not be negative")
)

// ReminderPublisher delivers reminder triggers through the backend chain.
type ReminderPublisher interface {
	PublishReminderEvent(ctx context.Context, ev *domain.ReminderEvent) events.Result
}

// CalendarMirror keeps a calendar copy of pending reminders.
type CalendarMirror interface {
	PutEvent(ctx context.Context, event *caldav.Event) error
	DeleteEvent(ctx context.Context, uid string) error
}

// ReminderService owns the reminder lifecycle: it reacts to task events,
// schedules reminders from due dates and fires the due ones. Event handling
// and scans hold one lock, so a reminder only ever moves forward from pending.
type ReminderService struct {
	mu sync.Mutex

	store     *storage.Store
	publisher ReminderPublisher
	mirror    CalendarMirror
	now       func() time.Time
	log       *slog.Logger
}

func NewReminderService(store *storage.Store, publisher ReminderPublisher, log *slog.Logger) *ReminderService {
	return &ReminderService{
		store:     store,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

func (s *ReminderService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMirror enables the calendar mirror. Mirror failures are only logged.
func (s *ReminderService) SetMirror(m CalendarMirror) {
	s.mirror = m
}

// HandleInbound dispatches a decoded event envelope.
func (s *ReminderService) HandleInbound(ctx context.Context, ev *domain.InboundTaskEvent) {
	s.HandleEvent(ctx, ev.Type, ev.TaskID, ev.UserID, ev.Payload)
}

// LocalSink returns a publisher sink that feeds messages on taskTopic straight
// back into HandleInbound. Single-process development mode uses it in place of
// a broker.
func (s *ReminderService) LocalSink(taskTopic string) func(ctx context.Context, topic string, msg events.Message) {
	return func(ctx context.Context, topic string, msg events.Message) {
		if topic != taskTopic {
			return
		}
		ev, err := domain.ParseCloudEvent(msg.Body)
		if err != nil {
			s.log.Error("malformed local event", "topic", topic, "error", err)
			return
		}
		s.HandleInbound(ctx, ev)
	}
}

// HandleEvent applies one task event to the task's reminders. Unknown event
// types are ignored.
func (s *ReminderService) HandleEvent(ctx context.Context, eventType, taskID, userID string, payload map[string]any) {
	if userID == "" {
		userID = domain.AnonymousUser
	}
	s.log.Info("received event", "type", eventType, "task_id", taskID)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch domain.TaskEventType(eventType) {
	case domain.TaskCreated:
		s.handleTaskCreated(ctx, taskID, userID, payload)
	case domain.TaskDueDateSet, domain.TaskDueDateChanged:
		s.handleDueDateChange(ctx, taskID, userID, payload)
	case domain.TaskCompleted, domain.TaskDeleted:
		n := s.cancelForTask(ctx, taskID)
		s.log.Info("cancelled reminders for finished task", "task_id", taskID, "count", n)
	default:
		s.log.Debug("ignoring event", "type", eventType, "task_id", taskID)
	}
}

func (s *ReminderService) handleTaskCreated(ctx context.Context, taskID, userID string, payload map[string]any) {
	dueDate, _ := payloadString(payload, "due_date")
	before := payloadInt(payload, "reminder_before")
	if dueDate == "" || before <= 0 {
		s.log.Debug("no reminder needed", "task_id", taskID)
		return
	}

	title := payloadTitle(payload, defaultCreatedTitle)
	if _, err := s.createReminder(ctx, taskID, userID, title, payloadInt(payload, "priority"), dueDate, before); err != nil {
		s.log.Warn("reminder not created", "task_id", taskID, "error", err)
	}
}

// handleDueDateChange cancels every pending reminder of the task before
// scheduling the new one, so at most one stays pending.
func (s *ReminderService) handleDueDateChange(ctx context.Context, taskID, userID string, payload map[string]any) {
	s.cancelForTask(ctx, taskID)

	dueDate, _ := payloadString(payload, "new_due_date")
	before := payloadInt(payload, "reminder_before")
	if dueDate == "" || before <= 0 {
		return
	}

	title := payloadTitle(payload, defaultChangedTitle)
	if _, err := s.createReminder(ctx, taskID, userID, title, payloadInt(payload, "priority"), dueDate, before); err != nil {
		s.log.Warn("reminder not created", "task_id", taskID, "error", err)
	}
}

// CreateReminder schedules a pending reminder at due date minus before minutes.
// It returns nil without error when that moment is not in the future.
func (s *ReminderService) CreateReminder(ctx context.Context, taskID, userID, title string, priority int, dueDateStr string, before int) (*domain.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReminder(ctx, taskID, userID, title, priority, dueDateStr, before)
}

func (s *ReminderService) createReminder(ctx context.Context, taskID, userID, title string, priority int, dueDateStr string, before int) (*domain.Reminder, error) {
	if before < 0 {
		return nil, ErrInvalidLeadMinutes
	}
	dueDate, err := domain.ParseTimestamp(dueDateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDueDate, err)
	}

	now := s.now()
	remindAt := dueDate.Add(-time.Duration(before) * time.Minute)
	if !remindAt.After(now) {
		s.log.Info("reminder time already passed", "task_id", taskID, "remind_at", remindAt)
		return nil, nil
	}

	if userID == "" {
		userID = domain.AnonymousUser
	}
	r := &domain.Reminder{
		ID:             uuid.NewString(),
		TaskID:         taskID,
		UserID:         userID,
		RemindAt:       remindAt,
		DueDate:        dueDate,
		ReminderBefore: before,
		TaskTitle:      title,
		TaskPriority:   priority,
		Status:         domain.ReminderPending,
		CreatedAt:      now,
	}

	s.store.Save(ctx, r)
	s.store.AddToIndex(ctx, taskID, r.ID)
	s.log.Info("created reminder", "reminder_id", r.ID, "task_id", taskID, "remind_at", remindAt)

	if s.mirror != nil {
		if err := s.mirror.PutEvent(ctx, caldav.ReminderEvent(r)); err != nil {
			s.log.Warn("calendar mirror failed", "reminder_id", r.ID, "error", err)
		}
	}

	return r, nil
}

// CancelForTask cancels every pending reminder of the task and returns how
// many were cancelled. Sent and cancelled reminders are left alone.
func (s *ReminderService) CancelForTask(ctx context.Context, taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelForTask(ctx, taskID)
}

func (s *ReminderService) cancelForTask(ctx context.Context, taskID string) int {
	reminders, err := s.store.GetForTask(ctx, taskID)
	if err != nil {
		s.log.Error("load reminders for task", "task_id", taskID, "error", err)
		return 0
	}

	now := s.now()
	cancelled := 0
	for _, r := range reminders {
		if !r.Cancel(now) {
			continue
		}
		s.store.Save(ctx, r)
		cancelled++

		if s.mirror != nil {
			if err := s.mirror.DeleteEvent(ctx, caldav.ReminderUID(r.ID)); err != nil {
				s.log.Warn("calendar mirror delete failed", "reminder_id", r.ID, "error", err)
			}
		}
	}
	return cancelled
}

// CheckAndTrigger fires every pending reminder whose time has come and returns
// how many were fired.
func (s *ReminderService) CheckAndTrigger(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.log.Debug("checking reminders", "now", now)

	pending, err := s.store.GetPending(ctx)
	if err != nil {
		s.log.Error("load pending reminders", "error", err)
		return 0
	}

	fired := 0
	for _, r := range pending {
		if !r.IsDue(now) {
			continue
		}
		if ok, _ := s.trigger(ctx, r); !ok {
			continue
		}
		fired++
	}

	if fired > 0 {
		s.log.Info("triggered reminders", "count", fired)
	}
	return fired
}

// TriggerReminder publishes the reminder event through the backend chain and
// marks the reminder sent whatever the outcome, so it never fires twice. It
// reports whether any backend accepted the event. A reminder that is no longer
// pending in the store is not fired.
func (s *ReminderService) TriggerReminder(ctx context.Context, r *domain.Reminder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, delivered := s.trigger(ctx, r)
	return delivered
}

// trigger reports whether the reminder fired and whether delivery succeeded.
// r may be a stale copy: the stored state decides.
func (s *ReminderService) trigger(ctx context.Context, r *domain.Reminder) (fired, delivered bool) {
	current, err := s.store.Get(ctx, r.ID)
	if err != nil {
		s.log.Error("reload reminder", "reminder_id", r.ID, "error", err)
		return false, false
	}
	if current == nil {
		current = r
	}
	if !current.IsPending() {
		s.log.Info("reminder no longer pending, not firing", "reminder_id", r.ID, "status", current.Status)
		*r = *current
		return false, false
	}

	now := s.now()
	res := s.publisher.PublishReminderEvent(ctx, domain.NewReminderEvent(current, now))

	via := ""
	if res.OK() {
		via = res.Backend
		s.log.Info("triggered reminder", "reminder_id", r.ID, "task_id", r.TaskID, "backend", via)
	} else {
		s.log.Error("reminder delivery failed on every backend, marking sent",
			"reminder_id", r.ID, "task_id", r.TaskID,
			"backend", res.Backend, "outcome", res.Outcome.String(), "error", res.Err)
	}

	current.MarkSent(now, via)
	s.store.Save(ctx, current)
	*r = *current
	return true, res.OK()
}

// List returns every tracked reminder.
func (s *ReminderService) List(ctx context.Context) ([]*domain.Reminder, error) {
	return s.store.All(ctx)
}

func (s *ReminderService) Pending(ctx context.Context) ([]*domain.Reminder, error) {
	return s.store.GetPending(ctx)
}

func (s *ReminderService) ForTask(ctx context.Context, taskID string) ([]*domain.Reminder, error) {
	return s.store.GetForTask(ctx, taskID)
}

func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func payloadTitle(payload map[string]any, fallback string) string {
	if title, _ := payloadString(payload, "title"); strings.TrimSpace(title) != "" {
		return title
	}
	return fallback
}

// payloadInt reads a numeric payload value. JSON numbers decode as float64.
func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}
