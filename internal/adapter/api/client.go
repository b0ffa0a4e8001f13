// Package api talks to the attempt server: streaming transports (SSE,
// WebSocket, polling) behind the shared Transport interface, one-shot historic
// log reads, and the versioned draft resource.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskstream/internal/domain"
	"taskstream/internal/infra/config"
)

// Client holds the connection settings shared by all server calls.
type Client struct {
	baseURL    string
	token      string
	transport  string // "sse", "poll" or "auto"
	pollEvery  time.Duration
	httpClient *http.Client // one-shot requests, bounded timeout
	streamer   *http.Client // streaming requests, no overall timeout
	logger     *slog.Logger
}

// NewClient creates a Client from configuration.
func NewClient(cfg config.ServerConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		transport: cfg.Transport,
		pollEvery: config.Duration(cfg.PollEvery, 2*time.Second),
		httpClient: &http.Client{
			Timeout: config.Duration(cfg.Timeout, 30*time.Second),
		},
		streamer: &http.Client{},
		logger:   logger,
	}
}

// newRequest builds a request with auth applied.
func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// RosterEndpoint is the streaming roster resource for one attempt. The
// document shape is {"execution_processes": {<id>: {...}}}.
func (c *Client) RosterEndpoint(attemptID string) string {
	return fmt.Sprintf("/api/task-attempts/%s/execution-processes/stream", url.PathEscape(attemptID))
}

// LogEndpoint is the streaming log resource for one process. Script processes
// stream raw stdout/stderr entries, everything else normalized entries. The
// document shape is {"entries": [...]}.
func (c *Client) LogEndpoint(proc domain.ExecutionProcess) string {
	flavor := "normalized"
	if proc.ExecutorAction.Kind == domain.ActionScript {
		flavor = "raw"
	}
	return fmt.Sprintf("/api/execution-processes/%s/logs/%s", url.PathEscape(proc.ID), flavor)
}

// RosterTransport returns the streaming strategy for roster subscriptions,
// honoring the configured choice or probing server capability for "auto".
// Call sites never special-case the strategy.
func (c *Client) RosterTransport(ctx context.Context) domain.Transport {
	switch c.transport {
	case "sse":
		return NewSSETransport(c)
	case "poll":
		return NewPollTransport(c, c.pollEvery)
	default:
		if c.supportsEventStream(ctx) {
			return NewSSETransport(c)
		}
		c.logger.Info("server does not advertise event streams, using polling transport")
		return NewPollTransport(c, c.pollEvery)
	}
}

// supportsEventStream probes whether the server can deliver SSE. Constrained
// embedding contexts (proxies that buffer responses) answer HEAD without the
// stream content type.
func (c *Client) supportsEventStream(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.newRequest(probeCtx, http.MethodHead, "/api/capabilities/stream", nil)
	if err != nil {
		return true
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Unreachable server: prefer SSE and let reconnect handle it.
		return true
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}
