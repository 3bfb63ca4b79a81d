package dapr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const DefaultTimeout = 5 * time.Second

// ErrUnavailable means the sidecar could not be reached at all.
var ErrUnavailable = errors.New("dapr sidecar unavailable")

// APIError is a non-success response from the sidecar.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dapr API error %d: %s", e.StatusCode, e.Body)
}

// Client talks to a Dapr sidecar over its HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the sidecar listening on localhost:port.
func NewClient(port string) *Client {
	return NewClientWithURL("http://localhost:" + port)
}

func NewClientWithURL(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Publish posts a message to a pub/sub topic.
func (c *Client) Publish(ctx context.Context, pubsub, topic string, body []byte, contentType string) error {
	path := fmt.Sprintf("/v1.0/publish/%s/%s", url.PathEscape(pubsub), url.PathEscape(topic))
	_, err := c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body), contentType)
	return err
}

type stateItem struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// GetState returns the raw value for key, or nil when the key does not exist.
func (c *Client) GetState(ctx context.Context, store, key string) ([]byte, error) {
	path := fmt.Sprintf("/v1.0/state/%s/%s", url.PathEscape(store), url.PathEscape(key))
	data, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil, nil
	}
	return data, nil
}

func (c *Client) SaveState(ctx context.Context, store, key string, value []byte) error {
	body, err := json.Marshal([]stateItem{{Key: key, Value: value}})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	path := fmt.Sprintf("/v1.0/state/%s", url.PathEscape(store))
	_, err = c.doRequest(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json")
	return err
}

func (c *Client) DeleteState(ctx context.Context, store, key string) error {
	path := fmt.Sprintf("/v1.0/state/%s/%s", url.PathEscape(store), url.PathEscape(key))
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil, "")
	return err
}

// doRequest performs a request against the sidecar. 200 and 204 are success.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if IsConnectError(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// IsConnectError reports whether err is a failure to establish a connection,
// as opposed to a timeout or an error on an open connection.
func IsConnectError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
