package upstash

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConfigured(t *testing.T) {
	assert.False(t, NewClient("", "", "").IsConfigured())
	assert.False(t, NewClient("https://q", "", "").IsConfigured())
	assert.True(t, NewClient("https://q", "user", "").IsConfigured())
}

func TestProduce_WrapsValueAndAuthenticates(t *testing.T) {
	var gotValue string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/produce/reminder-events", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotValue = body["value"]

		json.NewEncoder(w).Encode(ProduceResult{Topic: "reminder-events", Offset: 7})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "user", "secret")
	res, err := c.Produce(context.Background(), "reminder-events", []byte(`{"reminder_id":"r1"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(7), res.Offset)
	assert.JSONEq(t, `{"reminder_id":"r1"}`, gotValue)
}

func TestProduce_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "user", "bad").Produce(context.Background(), "t", []byte(`{}`))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestProduce_UndecodableBodyIsStillAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"topic":"reminder-events","offset":3}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "user", "secret")
	c.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := c.Produce(context.Background(), "reminder-events", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "reminder-events", res.Topic)
}

func TestConsume_DecodesMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/consume/reminder-service/reminder-1/task-events", r.URL.Path)
		w.Write([]byte(`[{"topic":"task-events","partition":0,"offset":1,"value":"{\"type\":\"task.created\"}"}]`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL, "user", "secret").Consume(context.Background(), "reminder-service", "reminder-1", "task-events")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, `{"type":"task.created"}`, msgs[0].Value)
}
