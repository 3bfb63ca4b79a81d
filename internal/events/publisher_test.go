package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tazhate/taskreminder/config"
	"github.com/tazhate/taskreminder/internal/clients/dapr"
	"github.com/tazhate/taskreminder/internal/clients/upstash"
	"github.com/tazhate/taskreminder/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closedServerURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func newTaskEvent(t *testing.T) *domain.TaskEvent {
	t.Helper()
	ev, err := domain.NewTaskEvent(domain.TaskCreated, "task-1", "u1", map[string]any{"title": "Buy milk"}, "")
	require.NoError(t, err)
	return ev
}

func TestSelect_Priority(t *testing.T) {
	log := discardLogger()

	p := Select(&config.Config{EventsEnabled: true}, log)
	assert.Equal(t, []string{BackendLog}, p.BackendNames())

	p = Select(&config.Config{EventsEnabled: true, DaprHTTPPort: "3500"}, log)
	assert.Equal(t, []string{BackendSidecar}, p.BackendNames())

	p = Select(&config.Config{EventsEnabled: true, DaprHTTPPort: "3500", QueueURL: "https://q", QueueUsername: "u"}, log)
	assert.Equal(t, []string{BackendQueue, BackendSidecar}, p.BackendNames())
	assert.Equal(t, BackendQueue, p.Primary())

	// a URL without credentials does not count as configured
	p = Select(&config.Config{EventsEnabled: true, QueueURL: "https://q"}, log)
	assert.Equal(t, []string{BackendLog}, p.BackendNames())
}

func TestPublish_DisabledIsSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	sidecar := NewSidecarBackend(dapr.NewClientWithURL(srv.URL), "taskpubsub", discardLogger())
	p := NewPublisher(false, []Backend{sidecar}, Topics{}, discardLogger())

	assert.True(t, p.Publish(context.Background(), "task-events", newTaskEvent(t)))
	assert.True(t, p.Deliver(context.Background(), "reminder-events", Message{}).OK())
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPublish_SidecarSendsCloudEvent(t *testing.T) {
	var gotPath, gotType string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sidecar := NewSidecarBackend(dapr.NewClientWithURL(srv.URL), "taskpubsub", discardLogger())
	p := NewPublisher(true, []Backend{sidecar}, Topics{}, discardLogger())

	ok := p.PublishTaskEvent(context.Background(), domain.TaskCompleted, "task-1", "", nil, "")
	require.True(t, ok)

	assert.Equal(t, "/v1.0/publish/taskpubsub/task-events", gotPath)
	assert.Equal(t, "application/cloudevents+json", gotType)
	assert.Equal(t, "task.completed", got["type"])
	assert.Equal(t, "1.0", got["specversion"])
}

func TestPublish_SidecarUnreachableReturnsFalse(t *testing.T) {
	sidecar := NewSidecarBackend(dapr.NewClientWithURL(closedServerURL()), "taskpubsub", discardLogger())
	p := NewPublisher(true, []Backend{sidecar}, Topics{}, discardLogger())

	assert.False(t, p.Publish(context.Background(), "task-events", newTaskEvent(t)))

	res := sidecar.Send(context.Background(), "task-events", Message{Body: []byte(`{}`)})
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
}

func TestPublish_NonSuccessStatusReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sidecar := NewSidecarBackend(dapr.NewClientWithURL(srv.URL), "taskpubsub", discardLogger())
	p := NewPublisher(true, []Backend{sidecar}, Topics{}, discardLogger())
	assert.False(t, p.Publish(context.Background(), "task-events", newTaskEvent(t)))

	queue := NewQueueBackend(upstash.NewClient(srv.URL, "u", "p"), discardLogger())
	res := queue.Send(context.Background(), "task-events", Message{Body: []byte(`{}`)})
	assert.Equal(t, OutcomeRejected, res.Outcome)
}

func TestPublish_UsesOnlyPrimary(t *testing.T) {
	var sidecarCalls int32
	sidecarSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sidecarCalls, 1)
	}))
	defer sidecarSrv.Close()

	queue := NewQueueBackend(upstash.NewClient(closedServerURL(), "u", "p"), discardLogger())
	sidecar := NewSidecarBackend(dapr.NewClientWithURL(sidecarSrv.URL), "taskpubsub", discardLogger())
	p := NewPublisher(true, []Backend{queue, sidecar}, Topics{}, discardLogger())

	assert.False(t, p.Publish(context.Background(), "task-events", newTaskEvent(t)))
	assert.Zero(t, atomic.LoadInt32(&sidecarCalls))
}

func TestDeliver_FallsBackThroughChain(t *testing.T) {
	sidecarSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer sidecarSrv.Close()

	queue := NewQueueBackend(upstash.NewClient(closedServerURL(), "u", "p"), discardLogger())
	sidecar := NewSidecarBackend(dapr.NewClientWithURL(sidecarSrv.URL), "taskpubsub", discardLogger())
	p := NewPublisher(true, []Backend{queue, sidecar}, Topics{}, discardLogger())

	ev := domain.NewReminderEvent(&domain.Reminder{ID: "r1", TaskID: "t1"}, time.Now())
	res := p.PublishReminderEvent(context.Background(), ev)

	assert.True(t, res.OK())
	assert.Equal(t, BackendSidecar, res.Backend)
}

func TestDeliver_AllFailReturnsLastFailure(t *testing.T) {
	queue := NewQueueBackend(upstash.NewClient(closedServerURL(), "u", "p"), discardLogger())
	sidecar := NewSidecarBackend(dapr.NewClientWithURL(closedServerURL()), "taskpubsub", discardLogger())
	p := NewPublisher(true, []Backend{queue, sidecar}, Topics{}, discardLogger())

	res := p.Deliver(context.Background(), "reminder-events", Message{Body: []byte(`{}`)})
	assert.False(t, res.OK())
	assert.Equal(t, BackendSidecar, res.Backend)
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
}

func TestLogBackend_SinkReceivesMessages(t *testing.T) {
	p := Select(&config.Config{EventsEnabled: true}, discardLogger())

	var got []string
	require.True(t, p.SetLocalSink(func(_ context.Context, topic string, msg Message) {
		got = append(got, topic+":"+msg.Kind)
	}))

	assert.True(t, p.PublishTaskEvent(context.Background(), domain.TaskCreated, "t1", "", nil, ""))
	assert.Equal(t, []string{"task-events:task.created"}, got)
}
