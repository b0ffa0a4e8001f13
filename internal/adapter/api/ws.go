package api

import (
	"context"
	"encoding/json"
	"strings"

	"nhooyr.io/websocket"

	"taskstream/internal/domain"
)

// wsFrame is the JSON envelope of one WebSocket message on a log stream.
type wsFrame struct {
	Type  string          `json:"type"` // "json_patch" or "finished"
	Patch json.RawMessage `json:"patch,omitempty"`
}

// WSTransport subscribes to a WebSocket log stream. The server frames each
// patch batch as {"type":"json_patch","patch":[...]} and signals the end of a
// process's stream with {"type":"finished"}.
type WSTransport struct {
	client *Client
}

// NewWSTransport creates the WebSocket strategy.
func NewWSTransport(c *Client) *WSTransport {
	return &WSTransport{client: c}
}

// Open implements domain.Transport.
func (t *WSTransport) Open(ctx context.Context, endpoint string) (<-chan domain.StreamEvent, error) {
	wsURL := toWebSocketURL(t.client.baseURL) + endpoint + "/ws"

	opts := &websocket.DialOptions{}
	if t.client.token != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + t.client.token},
		}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, err
	}
	// Log documents grow without bound for long runs.
	conn.SetReadLimit(16 * 1024 * 1024)

	ch := make(chan domain.StreamEvent, 16)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame wsFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				t.client.logger.Debug("unparseable ws frame skipped", "error", err)
				continue
			}
			switch frame.Type {
			case eventFinished:
				send(ctx, ch, domain.StreamEvent{Finished: true})
				return
			case eventJSONPatch:
				if !send(ctx, ch, domain.StreamEvent{Patch: frame.Patch}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
