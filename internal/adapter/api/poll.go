package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskstream/internal/domain"
)

// PollTransport is the fallback strategy for embedding contexts where
// streaming responses are buffered or blocked: it fetches the full document on
// an interval and delivers it as a whole-snapshot event when it changed.
// Behind the shared Transport interface, consumers cannot tell it apart from
// a push stream.
type PollTransport struct {
	client   *Client
	interval time.Duration
}

// NewPollTransport creates the polling strategy.
func NewPollTransport(c *Client, interval time.Duration) *PollTransport {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollTransport{client: c, interval: interval}
}

// Open implements domain.Transport. The first fetch happens immediately so
// consumers converge without waiting a full interval.
func (t *PollTransport) Open(ctx context.Context, endpoint string) (<-chan domain.StreamEvent, error) {
	// Streaming endpoints expose a sibling document resource.
	docEndpoint := strings.TrimSuffix(endpoint, "/stream")

	first, err := t.fetch(ctx, docEndpoint)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StreamEvent, 4)
	go func() {
		defer close(ch)

		last := first
		if !send(ctx, ch, domain.StreamEvent{Snapshot: json.RawMessage(first)}) {
			return
		}

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				doc, err := t.fetch(ctx, docEndpoint)
				if err != nil {
					// A failed poll ends the stream; the channel's reconnect
					// policy owns the retry schedule.
					t.client.logger.Debug("poll failed", "endpoint", docEndpoint, "error", err)
					return
				}
				if bytes.Equal(doc, last) {
					continue
				}
				last = doc
				if !send(ctx, ch, domain.StreamEvent{Snapshot: json.RawMessage(doc)}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (t *PollTransport) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := t.client.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewDomainError("PollTransport.fetch", domain.ErrBadStatus,
			fmt.Sprintf("%s: %s", endpoint, resp.Status))
	}
	return io.ReadAll(resp.Body)
}
