package api

import (
	"context"
	"log/slog"

	"taskstream/internal/domain"
)

// LiveLogStreamer opens the continuously-streamed subscription for the single
// currently-running process. Each delivered update carries the full current
// entry list (wholesale replacement).
type LiveLogStreamer struct {
	client *Client
	logger *slog.Logger
}

// NewLiveLogStreamer creates a LiveLogStreamer.
func NewLiveLogStreamer(c *Client, logger *slog.Logger) *LiveLogStreamer {
	return &LiveLogStreamer{client: c, logger: logger}
}

// transport picks the streaming strategy for live logs. WebSocket is the
// default; the configured roster strategy wins when it is explicit, so a
// polling-only deployment stays polling end to end.
func (s *LiveLogStreamer) transport() domain.Transport {
	switch s.client.transport {
	case "poll":
		return NewPollTransport(s.client, s.client.pollEvery)
	case "sse":
		return NewSSETransport(s.client)
	default:
		return NewWSTransport(s.client)
	}
}

// StreamEntries implements domain.LiveStreamer. The returned channel closes
// after a Finished update, or without one when the connection drops.
func (s *LiveLogStreamer) StreamEntries(ctx context.Context, proc domain.ExecutionProcess) (<-chan domain.LogUpdate, error) {
	events, err := s.transport().Open(ctx, s.client.LogEndpoint(proc))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.LogUpdate, 16)
	go func() {
		defer close(out)
		_, finished := followLog(ctx, events, func(entries []domain.LogEntry) {
			select {
			case out <- domain.LogUpdate{Entries: entries}:
			case <-ctx.Done():
			}
		}, s.logger)
		if finished {
			select {
			case out <- domain.LogUpdate{Finished: true}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
