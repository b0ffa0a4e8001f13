package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"taskstream/internal/domain"
)

// Named events carried on the wire.
const (
	eventJSONPatch = "json_patch"
	eventFinished  = "finished"
)

// SSETransport subscribes to a server-sent-event resource. Each "json_patch"
// event carries an RFC 6902 operation array; a "finished" event signals the
// server intentionally ended the stream.
type SSETransport struct {
	client *Client
}

// NewSSETransport creates the SSE strategy.
func NewSSETransport(c *Client) *SSETransport {
	return &SSETransport{client: c}
}

// Open implements domain.Transport. The returned channel closes when the
// response body ends or ctx is cancelled.
func (t *SSETransport) Open(ctx context.Context, endpoint string) (<-chan domain.StreamEvent, error) {
	req, err := t.client.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.streamer.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, domain.NewDomainError("SSETransport.Open", domain.ErrBadStatus,
			fmt.Sprintf("%s: %s", endpoint, resp.Status))
	}

	ch := make(chan domain.StreamEvent, 16)
	go parseEventStream(ctx, resp.Body, ch)
	return ch, nil
}

// parseEventStream reads SSE-formatted lines from body and forwards named
// events. An SSE message is a group of "event:"/"data:" lines terminated by a
// blank line; multi-line data is newline-joined per the SSE spec. The channel
// is closed when the stream ends, the body closes, or ctx is cancelled.
func parseEventStream(ctx context.Context, body io.ReadCloser, ch chan<- domain.StreamEvent) {
	defer close(ch)
	defer body.Close()

	var eventName string
	var data [][]byte

	flush := func() bool {
		defer func() {
			eventName = ""
			data = nil
		}()
		switch eventName {
		case eventFinished:
			// Carries no payload.
			return send(ctx, ch, domain.StreamEvent{Finished: true})
		case eventJSONPatch, "": // unnamed data events default to patches
			if len(data) == 0 {
				return true
			}
			payload := bytes.Join(data, []byte("\n"))
			return send(ctx, ch, domain.StreamEvent{Patch: json.RawMessage(payload)})
		default:
			// Unknown event names are skipped, not errors.
			return true
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()

		// Blank line terminates one message.
		if len(line) == 0 {
			if !flush() {
				return
			}
			continue
		}
		// Comments.
		if line[0] == ':' {
			continue
		}
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventName = string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("event:"))))
		case bytes.HasPrefix(line, []byte("data:")):
			d := bytes.TrimPrefix(line, []byte("data:"))
			d = bytes.TrimPrefix(d, []byte(" "))
			data = append(data, append([]byte(nil), d...))
		}
	}
	// Trailing message without final blank line.
	flush()
}

func send(ctx context.Context, ch chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
