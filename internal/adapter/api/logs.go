package api

import (
	"context"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"log/slog"

	"taskstream/internal/domain"
)

// emptyLogDoc seeds a per-process log document.
const emptyLogDoc = `{"entries":[]}`

// followLog applies stream events to a local log document and invokes emit
// (when non-nil) after every change. It returns the final entry list and
// whether the server signalled completion. Malformed batches are skipped so a
// bad batch never corrupts the accumulated log.
func followLog(ctx context.Context, events <-chan domain.StreamEvent, emit func([]domain.LogEntry), logger *slog.Logger) ([]domain.LogEntry, bool) {
	doc := []byte(emptyLogDoc)
	var entries []domain.LogEntry

	decode := func(d []byte) bool {
		var snap domain.LogSnapshot
		if err := json.Unmarshal(d, &snap); err != nil {
			logger.Warn("undecodable log document skipped", "error", err)
			return false
		}
		doc = d
		entries = snap.Entries
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return entries, false
		case ev, ok := <-events:
			if !ok {
				return entries, false
			}
			switch {
			case ev.Finished:
				return entries, true
			case ev.Snapshot != nil:
				if decode(ev.Snapshot) && emit != nil {
					emit(entries)
				}
			case ev.Patch != nil:
				patch, err := jsonpatch.DecodePatch(ev.Patch)
				if err != nil {
					logger.Warn("malformed log patch skipped", "error", err)
					continue
				}
				modified, err := patch.Apply(doc)
				if err != nil {
					logger.Warn("log patch dropped", "error", err)
					continue
				}
				if decode(modified) && emit != nil {
					emit(entries)
				}
			}
		}
	}
}
