package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskEvent_FillsDefaults(t *testing.T) {
	ev, err := NewTaskEvent(TaskCreated, "task-1", "", nil, "")
	require.NoError(t, err)

	assert.NotEmpty(t, ev.EventID)
	assert.NotEmpty(t, ev.CorrelationID)
	assert.False(t, ev.EventTime.IsZero())
	assert.Equal(t, AnonymousUser, ev.UserID)
	assert.Equal(t, EventSource, ev.Source)
	assert.NotNil(t, ev.Payload)
}

func TestNewTaskEvent_KeepsCorrelationID(t *testing.T) {
	ev, err := NewTaskEvent(TaskUpdated, "task-1", "u1", nil, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, "corr-1", ev.CorrelationID)

	other, err := NewTaskEvent(TaskUpdated, "task-1", "u1", nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, ev.EventID, other.EventID)
}

func TestNewTaskEvent_RejectsUnknownType(t *testing.T) {
	_, err := NewTaskEvent(TaskEventType("task.exploded"), "task-1", "", nil, "")
	assert.True(t, errors.Is(err, ErrUnknownEventType))

	_, err = ParseTaskEventType("task.exploded")
	assert.True(t, errors.Is(err, ErrUnknownEventType))

	typ, err := ParseTaskEventType("task.due_date.changed")
	require.NoError(t, err)
	assert.Equal(t, TaskDueDateChanged, typ)
}

func TestCloudEvent_Envelope(t *testing.T) {
	ev, err := NewTaskEvent(TaskCreated, "task-1", "u1", map[string]any{"title": "Write report"}, "corr-1")
	require.NoError(t, err)

	ce, err := ev.CloudEvent()
	require.NoError(t, err)

	raw, err := json.Marshal(ce)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Equal(t, "1.0", m["specversion"])
	assert.Equal(t, "task.created", m["type"])
	assert.Equal(t, "backend-api", m["source"])
	assert.Equal(t, ev.EventID, m["id"])
	assert.Equal(t, "application/json", m["datacontenttype"])
	assert.NotEmpty(t, m["time"])

	data := m["data"].(map[string]any)
	assert.Equal(t, "task-1", data["task_id"])
	assert.Equal(t, "u1", data["user_id"])
	assert.Equal(t, "corr-1", data["correlation_id"])
	assert.Equal(t, "Write report", data["payload"].(map[string]any)["title"])
}

func TestParseCloudEvent_RoundTrip(t *testing.T) {
	ev, err := NewTaskEvent(TaskDueDateChanged, "task-9", "", map[string]any{"reminder_before": 30}, "")
	require.NoError(t, err)
	ce, err := ev.CloudEvent()
	require.NoError(t, err)
	raw, err := json.Marshal(ce)
	require.NoError(t, err)

	in, err := ParseCloudEvent(raw)
	require.NoError(t, err)

	assert.Equal(t, "task.due_date.changed", in.Type)
	assert.Equal(t, "task-9", in.TaskID)
	assert.Equal(t, AnonymousUser, in.UserID)
	assert.EqualValues(t, 30, in.Payload["reminder_before"])
}

func TestParseCloudEvent_MissingData(t *testing.T) {
	in, err := ParseCloudEvent([]byte(`{"type":"task.completed"}`))
	require.NoError(t, err)
	assert.Equal(t, AnonymousUser, in.UserID)
	assert.NotNil(t, in.Payload)

	_, err = ParseCloudEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewReminderEvent_ClampsMinutes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := &Reminder{ID: "r1", TaskID: "t1", UserID: "u1", TaskTitle: "Pay rent", DueDate: now.Add(-10 * time.Minute)}

	ev := NewReminderEvent(r, now)
	assert.Equal(t, 0, ev.MinutesUntilDue)
	assert.Equal(t, ReminderTriggered, ev.EventType)
	assert.Equal(t, []string{"push", "email", "in_app"}, ev.Channels)

	r.DueDate = now.Add(30 * time.Minute)
	assert.Equal(t, 30, NewReminderEvent(r, now).MinutesUntilDue)
}
