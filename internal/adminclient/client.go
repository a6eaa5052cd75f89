// Package adminclient is an HTTP client for the admin surface exposed
// by internal/server, used by the CLI's status and tui
// subcommands: a base-URL-plus-http.Client wrapper over the replication
// actor's operations.
package adminclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vibestack/cdc-core/internal/controller"
	"github.com/vibestack/cdc-core/internal/metrics"
	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/slotadapter"
)

// Client talks to the CDC core's admin HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an API client pointing at the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping checks if the admin server is reachable.
func (c *Client) Ping() error {
	resp, err := c.http.Get(c.baseURL + "/api/replication/status")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Init calls POST /api/replication/init.
func (c *Client) Init() (*controller.InitResult, error) {
	var out controller.InitResult
	if err := c.post("/api/replication/init", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type statusResponse struct {
	controller.StatusResult
	Metrics metrics.Snapshot `json:"metrics"`
}

// Status calls GET /api/replication/status.
func (c *Client) Status() (*statusResponse, error) {
	var out statusResponse
	if err := c.get("/api/replication/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls GET /api/replication/health.
func (c *Client) Health() (*controller.HealthCheckResult, error) {
	var out controller.HealthCheckResult
	if err := c.get("/api/replication/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify calls GET /api/replication/verify.
func (c *Client) Verify() (*controller.VerificationResult, error) {
	var out controller.VerificationResult
	if err := c.get("/api/replication/verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cleanup calls POST /api/replication/cleanup.
func (c *Client) Cleanup() (*controller.InitialCleanupResult, error) {
	var out controller.InitialCleanupResult
	if err := c.post("/api/replication/cleanup", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Peek calls GET /api/replication/peek.
func (c *Client) Peek(fromLSN string, limit int) (*slotadapter.PeekHistoryResult, error) {
	q := url.Values{}
	if fromLSN != "" {
		q.Set("from_lsn", fromLSN)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out slotadapter.PeekHistoryResult
	if err := c.get("/api/replication/peek?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clients calls GET /api/replication/clients.
func (c *Client) Clients() ([]registry.ClientState, error) {
	var out []registry.ClientState
	if err := c.get("/api/replication/clients", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClientsCleanup calls POST /api/replication/clients/cleanup.
func (c *Client) ClientsCleanup() (*controller.InitialCleanupResult, error) {
	var out controller.InitialCleanupResult
	if err := c.post("/api/replication/clients/cleanup", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logs calls GET /api/replication/logs.
func (c *Client) Logs() ([]metrics.LogEntry, error) {
	var out []metrics.LogEntry
	if err := c.get("/api/replication/logs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("cannot reach admin server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unexpected response from %s: %s", path, string(body))
	}
	return nil
}

func (c *Client) post(path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader([]byte("{}"))
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("cannot reach admin server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unexpected response from %s: %s", path, string(respBody))
	}
	return nil
}
