package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownEventType = errors.New("unknown event type")

type TaskEventType string

const (
	TaskCreated            TaskEventType = "task.created"
	TaskUpdated            TaskEventType = "task.updated"
	TaskDeleted            TaskEventType = "task.deleted"
	TaskCompleted          TaskEventType = "task.completed"
	TaskUncompleted        TaskEventType = "task.uncompleted"
	TaskDueDateSet         TaskEventType = "task.due_date.set"
	TaskDueDateChanged     TaskEventType = "task.due_date.changed"
	TaskPriorityChanged    TaskEventType = "task.priority.changed"
	TaskTagsUpdated        TaskEventType = "task.tags.updated"
	TaskRecurringGenerated TaskEventType = "task.recurring.generated"
)

var taskEventTypes = map[TaskEventType]struct{}{
	TaskCreated:            {},
	TaskUpdated:            {},
	TaskDeleted:            {},
	TaskCompleted:          {},
	TaskUncompleted:        {},
	TaskDueDateSet:         {},
	TaskDueDateChanged:     {},
	TaskPriorityChanged:    {},
	TaskTagsUpdated:        {},
	TaskRecurringGenerated: {},
}

func ParseTaskEventType(s string) (TaskEventType, error) {
	t := TaskEventType(s)
	if _, ok := taskEventTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

const (
	AnonymousUser    = "anonymous"
	EventSource      = "backend-api"
	EventVersion     = "1.0"
	CloudEventsSpec  = "1.0"
	EventContentType = "application/json"
)

// TaskEvent is one task lifecycle occurrence. Treat it as immutable once built.
type TaskEvent struct {
	EventID       string         `json:"event_id"`
	EventType     TaskEventType  `json:"event_type"`
	EventTime     time.Time      `json:"event_time"`
	EventVersion  string         `json:"event_version"`
	TaskID        string         `json:"task_id"`
	UserID        string         `json:"user_id"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id"`
	Source        string         `json:"source"`
}

// NewTaskEvent fills event id, time, source and version. A correlation id is
// generated when the caller does not supply one.
func NewTaskEvent(eventType TaskEventType, taskID, userID string, payload map[string]any, correlationID string) (*TaskEvent, error) {
	if _, ok := taskEventTypes[eventType]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if userID == "" {
		userID = AnonymousUser
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &TaskEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventTime:     time.Now().UTC(),
		EventVersion:  EventVersion,
		TaskID:        taskID,
		UserID:        userID,
		Payload:       payload,
		CorrelationID: correlationID,
		Source:        EventSource,
	}, nil
}

// CloudEvent is the CloudEvents 1.0 structured-mode envelope.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	ID              string          `json:"id"`
	Time            string          `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

type TaskEventData struct {
	EventVersion  string         `json:"event_version,omitempty"`
	TaskID        string         `json:"task_id"`
	UserID        string         `json:"user_id"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func (e *TaskEvent) CloudEvent() (*CloudEvent, error) {
	data, err := json.Marshal(TaskEventData{
		EventVersion:  e.EventVersion,
		TaskID:        e.TaskID,
		UserID:        e.UserID,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return &CloudEvent{
		SpecVersion:     CloudEventsSpec,
		Type:            string(e.EventType),
		Source:          e.Source,
		ID:              e.EventID,
		Time:            e.EventTime.Format(time.RFC3339Nano),
		DataContentType: EventContentType,
		Data:            data,
	}, nil
}

// InboundTaskEvent is what a subscriber extracts from a delivered envelope.
// Type is kept as a raw string: subscribers ignore types they do not handle.
type InboundTaskEvent struct {
	Type    string
	TaskID  string
	UserID  string
	Payload map[string]any
}

func ParseCloudEvent(body []byte) (*InboundTaskEvent, error) {
	var ce CloudEvent
	if err := json.Unmarshal(body, &ce); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var data TaskEventData
	if len(ce.Data) > 0 && string(ce.Data) != "null" {
		if err := json.Unmarshal(ce.Data, &data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
	}

	ev := &InboundTaskEvent{
		Type:    ce.Type,
		TaskID:  data.TaskID,
		UserID:  data.UserID,
		Payload: data.Payload,
	}
	if ev.UserID == "" {
		ev.UserID = AnonymousUser
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	return ev, nil
}

const ReminderTriggered = "reminder.triggered"

var DefaultChannels = []string{"push", "email", "in_app"}

type ReminderEvent struct {
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	EventTime       time.Time `json:"event_time"`
	ReminderID      string    `json:"reminder_id"`
	TaskID          string    `json:"task_id"`
	UserID          string    `json:"user_id"`
	TaskTitle       string    `json:"task_title"`
	TaskPriority    int       `json:"task_priority"`
	DueDate         string    `json:"due_date"`
	MinutesUntilDue int       `json:"minutes_until_due"`
	Channels        []string  `json:"channels"`
}

// NewReminderEvent builds the trigger event for r as of now.
func NewReminderEvent(r *Reminder, now time.Time) *ReminderEvent {
	minutes := int(r.DueDate.Sub(now).Minutes())
	if minutes < 0 {
		minutes = 0
	}
	channels := make([]string, len(DefaultChannels))
	copy(channels, DefaultChannels)

	return &ReminderEvent{
		EventID:         uuid.NewString(),
		EventType:       ReminderTriggered,
		EventTime:       now.UTC(),
		ReminderID:      r.ID,
		TaskID:          r.TaskID,
		UserID:          r.UserID,
		TaskTitle:       r.TaskTitle,
		TaskPriority:    r.TaskPriority,
		DueDate:         r.DueDate.UTC().Format(time.RFC3339),
		MinutesUntilDue: minutes,
		Channels:        channels,
	}
}
