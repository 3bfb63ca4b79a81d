package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method string
	uri    string
	body   map[string]interface{}
	user   string
}

func newTestServer(t *testing.T, status int, response string) (*MCPServer, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := capturedRequest{method: r.Method, uri: r.URL.RequestURI()}
		c.user, _, _ = r.BasicAuth()
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				assert.NoError(t, json.Unmarshal(data, &c.body))
			}
		}
		captured = append(captured, c)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(api.Close)

	t.Setenv("TASKREMINDER_API_URL", api.URL+"/")
	t.Setenv("TASKREMINDER_API_USERNAME", "admin")
	t.Setenv("TASKREMINDER_API_PASSWORD", "secret")
	return NewMCPServer(slog.New(slog.NewTextHandler(io.Discard, nil))), &captured
}

func callTool(t *testing.T, s *MCPServer, name string, args map[string]interface{}) ToolCallResult {
	t.Helper()
	params, err := json.Marshal(ToolCallParams{Name: name, Arguments: args})
	require.NoError(t, err)
	resp := s.handleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(ToolCallResult)
	require.True(t, ok)
	return result
}

func TestToolsList(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"success":true}`)
	resp := s.handleRequest(JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: "tools/list"})

	list, ok := resp.Result.(ToolsListResult)
	require.True(t, ok)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{
		"todo_list_tasks",
		"todo_create_task",
		"todo_update_task",
		"todo_complete_task",
		"todo_delete_task",
		"todo_list_reminders",
	}, names)
}

func TestCreateTask(t *testing.T) {
	s, captured := newTestServer(t, http.StatusCreated, `{"success":true,"data":{"id":"t1"}}`)

	result := callTool(t, s, "todo_create_task", map[string]interface{}{
		"title":           "Write report",
		"due_date":        "2026-03-01T10:00:00Z",
		"priority":        2,
		"tags":            "work, urgent",
		"reminder_before": 30,
	})
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, `"id": "t1"`)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/tasks", req.uri)
	assert.Equal(t, "admin", req.user)
	assert.Equal(t, "Write report", req.body["title"])
	assert.EqualValues(t, 30, req.body["reminder_before"])
	assert.Equal(t, []interface{}{"work", "urgent"}, req.body["tags"])
	assert.NotContains(t, req.body, "description")
}

func TestTaskRoutes(t *testing.T) {
	s, captured := newTestServer(t, http.StatusOK, `{"success":true,"data":[]}`)

	callTool(t, s, "todo_update_task", map[string]interface{}{"task_id": "t1", "priority": 3})
	callTool(t, s, "todo_complete_task", map[string]interface{}{"task_id": "t1"})
	callTool(t, s, "todo_delete_task", map[string]interface{}{"task_id": "t1"})
	callTool(t, s, "todo_list_tasks", map[string]interface{}{"status": "pending", "priority": 2})
	callTool(t, s, "todo_list_reminders", map[string]interface{}{"task_id": "t1"})

	require.Len(t, *captured, 5)
	got := make([]string, 0, 5)
	for _, c := range *captured {
		got = append(got, c.method+" "+c.uri)
	}
	assert.Equal(t, []string{
		"PUT /api/tasks/t1",
		"PATCH /api/tasks/t1/complete",
		"DELETE /api/tasks/t1",
		"GET /api/tasks?priority=2&status=pending",
		"GET /api/reminders?task_id=t1",
	}, got)
	assert.Equal(t, map[string]interface{}{"priority": float64(3)}, (*captured)[0].body)
}

func TestToolErrors(t *testing.T) {
	s, captured := newTestServer(t, http.StatusNotFound, `{"success":false,"error":"Task not found"}`)

	result := callTool(t, s, "todo_complete_task", map[string]interface{}{"task_id": "missing"})
	assert.True(t, result.IsError)
	assert.Equal(t, "API Error: Task not found", result.Content[0].Text)

	result = callTool(t, s, "todo_delete_task", map[string]interface{}{})
	assert.True(t, result.IsError)
	assert.Len(t, *captured, 1)

	result = callTool(t, s, "todo_unknown", nil)
	assert.True(t, result.IsError)
}

func TestRun_WritesOneResponsePerRequest(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"success":true}`)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n\nnot json\n" +
		`{"jsonrpc":"2.0","id":2,"method":"nope"}` + "\n")
	var out bytes.Buffer
	s.Run(in, &out)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"taskreminder-mcp"`)
	assert.Contains(t, lines[1], `"Method not found"`)
}

func TestRun_StopsOnReadError(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"success":true}`)

	in := io.MultiReader(
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`+"\n"),
		iotest.ErrReader(errors.New("stdin closed")),
	)
	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		s.Run(in, &out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept reading after a read error")
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"taskreminder-mcp"`)
}

func TestRun_AnswersFinalLineWithoutNewline(t *testing.T) {
	s, _ := newTestServer(t, http.StatusOK, `{"success":true}`)

	var out bytes.Buffer
	s.Run(strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"nope"}`), &out)

	assert.Contains(t, out.String(), `"id":7`)
	assert.Contains(t, out.String(), `"Method not found"`)
}
