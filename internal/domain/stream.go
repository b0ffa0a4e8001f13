package domain

import (
	"context"
	"encoding/json"
)

// RosterSnapshot is the patch-maintained document of the roster endpoint.
type RosterSnapshot struct {
	ExecutionProcesses map[string]ExecutionProcess `json:"execution_processes"`
}

// LogSnapshot is the patch-maintained document of a per-process log endpoint.
type LogSnapshot struct {
	Entries []LogEntry `json:"entries"`
}

// StreamEvent is one event delivered by a Transport. Exactly one of Patch,
// Snapshot or Finished is set: Patch carries an RFC 6902 operation array,
// Snapshot carries a whole replacement document (polling transport), and
// Finished signals the server intentionally ended the stream.
type StreamEvent struct {
	Patch    json.RawMessage
	Snapshot json.RawMessage
	Finished bool
}

// Transport opens one streaming subscription to a server resource. The
// returned channel is closed when the stream ends for any reason; the cause is
// reported through the error return of the final read path (a closed channel
// after a Finished event is a rotation, otherwise a transport drop).
// Implementations must stop promptly when ctx is cancelled.
type Transport interface {
	Open(ctx context.Context, endpoint string) (<-chan StreamEvent, error)
}

// EntryFetcher performs a one-shot historic read of a process's full log,
// consuming the underlying stream to completion.
type EntryFetcher interface {
	FetchEntries(ctx context.Context, proc ExecutionProcess) ([]LogEntry, error)
}

// LogUpdate is one incremental delivery from a live per-process subscription.
// Entries is always the full current list (wholesale replacement).
type LogUpdate struct {
	Entries  []LogEntry
	Finished bool
}

// LiveStreamer opens a continuously-streamed subscription to one process's
// log, keyed by process id and kind.
type LiveStreamer interface {
	StreamEntries(ctx context.Context, proc ExecutionProcess) (<-chan LogUpdate, error)
}
