package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCP structures
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPServer exposes the task and reminder HTTP API as MCP tools over stdio.
type MCPServer struct {
	apiURL      string
	apiUsername string
	apiPassword string
	client      *http.Client
	log         *slog.Logger
}

func NewMCPServer(log *slog.Logger) *MCPServer {
	apiURL := os.Getenv("TASKREMINDER_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8001"
	}
	return &MCPServer{
		apiURL:      strings.TrimRight(apiURL, "/"),
		apiUsername: os.Getenv("TASKREMINDER_API_USERNAME"),
		apiPassword: os.Getenv("TASKREMINDER_API_PASSWORD"),
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

const maxRequestSize = 4 << 20

// Run serves one JSON-RPC request per input line until the input ends or
// fails.
func (s *MCPServer) Run(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.log.Error("error parsing request", "error", err)
			continue
		}

		responseBytes, err := json.Marshal(s.handleRequest(req))
		if err != nil {
			s.log.Error("error encoding response", "method", req.Method, "error", err)
			continue
		}
		fmt.Fprintln(out, string(responseBytes))
	}

	if err := scanner.Err(); err != nil {
		s.log.Error("error reading requests", "error", err)
	}
}

func (s *MCPServer) handleRequest(req JSONRPCRequest) JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: nil}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "taskreminder-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

var taskIDProperty = map[string]Property{
	"task_id": {Type: "string", Description: "Task ID"},
}

func (s *MCPServer) handleToolsList(req JSONRPCRequest) JSONRPCResponse {
	tools := []Tool{
		{
			Name:        "todo_list_tasks",
			Description: "List tasks, optionally filtered by status, minimum priority or tags.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"status":   {Type: "string", Description: "Task status", Enum: []string{"pending", "completed"}},
					"priority": {Type: "integer", Description: "Minimum priority"},
					"tags":     {Type: "string", Description: "Comma-separated tags, any match"},
				},
			},
		},
		{
			Name:        "todo_create_task",
			Description: "Create a task. A due date with reminder_before schedules a reminder that many minutes ahead.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"title":           {Type: "string", Description: "Task title"},
					"description":     {Type: "string", Description: "Task description"},
					"due_date":        {Type: "string", Description: "Due date, ISO-8601 (e.g. 2026-03-01T10:00:00Z)"},
					"priority":        {Type: "integer", Description: "Priority, higher is more important"},
					"tags":            {Type: "string", Description: "Comma-separated tags"},
					"reminder_before": {Type: "integer", Description: "Minutes before the due date to remind"},
				},
				Required: []string{"title"},
			},
		},
		{
			Name:        "todo_update_task",
			Description: "Update task fields. Omitted fields are left unchanged; an empty due_date clears it.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"task_id":         {Type: "string", Description: "Task ID"},
					"title":           {Type: "string", Description: "New title"},
					"description":     {Type: "string", Description: "New description"},
					"due_date":        {Type: "string", Description: "New due date, ISO-8601"},
					"priority":        {Type: "integer", Description: "New priority"},
					"tags":            {Type: "string", Description: "Comma-separated tags, replaces existing"},
					"reminder_before": {Type: "integer", Description: "Minutes before the due date to remind"},
				},
				Required: []string{"task_id"},
			},
		},
		{
			Name:        "todo_complete_task",
			Description: "Mark a task completed. Its pending reminders are cancelled.",
			InputSchema: InputSchema{Type: "object", Properties: taskIDProperty, Required: []string{"task_id"}},
		},
		{
			Name:        "todo_delete_task",
			Description: "Delete a task by ID.",
			InputSchema: InputSchema{Type: "object", Properties: taskIDProperty, Required: []string{"task_id"}},
		},
		{
			Name:        "todo_list_reminders",
			Description: "List reminders, optionally for one task or in one status.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"task_id": {Type: "string", Description: "Only reminders of this task"},
					"status":  {Type: "string", Description: "Reminder status", Enum: []string{"pending", "sent", "cancelled", "failed"}},
				},
			},
		},
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	var result string
	var isError bool

	args := params.Arguments
	taskID := url.PathEscape(stringArg(args, "task_id"))

	switch params.Name {
	case "todo_list_tasks":
		result, isError = s.apiGet("/api/tasks" + query(args, "status", "priority", "tags"))
	case "todo_create_task":
		result, isError = s.apiRequest(http.MethodPost, "/api/tasks", taskBody(args))
	case "todo_update_task":
		if taskID == "" {
			result, isError = "task_id is required", true
			break
		}
		result, isError = s.apiRequest(http.MethodPut, "/api/tasks/"+taskID, taskBody(args))
	case "todo_complete_task":
		if taskID == "" {
			result, isError = "task_id is required", true
			break
		}
		result, isError = s.apiRequest(http.MethodPatch, "/api/tasks/"+taskID+"/complete", nil)
	case "todo_delete_task":
		if taskID == "" {
			result, isError = "task_id is required", true
			break
		}
		result, isError = s.apiRequest(http.MethodDelete, "/api/tasks/"+taskID, nil)
	case "todo_list_reminders":
		result, isError = s.apiGet("/api/reminders" + query(args, "task_id", "status"))
	default:
		result = "Unknown tool: " + params.Name
		isError = true
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

func stringArg(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func query(args map[string]interface{}, keys ...string) string {
	q := url.Values{}
	for _, k := range keys {
		if v := stringArg(args, k); v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// taskBody maps tool arguments onto the tasks API body. Only supplied fields
// are sent, so updates stay partial.
func taskBody(args map[string]interface{}) map[string]interface{} {
	body := map[string]interface{}{}
	for _, k := range []string{"title", "description", "due_date"} {
		if v, ok := args[k]; ok && v != nil {
			body[k] = stringArg(args, k)
		}
	}
	for _, k := range []string{"priority", "reminder_before"} {
		if v, ok := args[k]; ok && v != nil {
			body[k] = v
		}
	}
	if v, ok := args["tags"]; ok && v != nil {
		body["tags"] = splitTags(v)
	}
	return body
}

func splitTags(v interface{}) []string {
	tags := []string{}
	switch t := v.(type) {
	case string:
		for _, tag := range strings.Split(t, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	case []interface{}:
		for _, tag := range t {
			tags = append(tags, fmt.Sprintf("%v", tag))
		}
	}
	return tags
}

func (s *MCPServer) apiGet(path string) (string, bool) {
	return s.apiRequest(http.MethodGet, path, nil)
}

func (s *MCPServer) apiRequest(method, path string, body interface{}) (string, bool) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Sprintf("Error encoding request: %v", err), true
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.apiURL+path, reqBody)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true
	}

	if s.apiUsername != "" {
		req.SetBasicAuth(s.apiUsername, s.apiPassword)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}

	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return string(respBody), resp.StatusCode >= 400
	}

	if !apiResp.Success {
		return fmt.Sprintf("API Error: %s", apiResp.Error), true
	}

	var prettyData bytes.Buffer
	if err := json.Indent(&prettyData, apiResp.Data, "", "  "); err != nil {
		return string(apiResp.Data), false
	}

	return prettyData.String(), false
}

func main() {
	// stdout carries the protocol, logs go to stderr
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	server := NewMCPServer(log)
	server.Run(os.Stdin, os.Stdout)
}
