// Package registry presents the live roster of execution processes for one
// attempt as a sorted slice plus an id-indexed map, backed by a patch channel
// over the roster endpoint.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"taskstream/internal/domain"
	"taskstream/internal/patchchan"
)

// Registry creates roster subscriptions. The transport strategy and endpoint
// layout are injected so tests can run against fakes.
type Registry struct {
	transport domain.Transport
	endpoint  func(attemptID string) string
	backoff   [2]time.Duration // base, cap
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackoff overrides the reconnect schedule of roster channels.
func WithBackoff(base, cap time.Duration) Option {
	return func(r *Registry) { r.backoff = [2]time.Duration{base, cap} }
}

// New creates a Registry.
func New(transport domain.Transport, endpoint func(string) string, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		transport: transport,
		endpoint:  endpoint,
		backoff:   [2]time.Duration{time.Second, 8 * time.Second},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscription is one live roster view. Accessors are safe for concurrent
// use; onChange fires after every snapshot or connection-state change.
type Subscription struct {
	attemptID string
	channel   *patchchan.Channel[domain.RosterSnapshot]
}

// Subscribe opens the roster stream for an attempt. The snapshot is seeded
// empty before any network data, so Processes never returns an undefined
// state. Close the subscription when the attempt changes.
func (r *Registry) Subscribe(ctx context.Context, attemptID string, onChange func()) (*Subscription, error) {
	seed := func() *domain.RosterSnapshot {
		return &domain.RosterSnapshot{ExecutionProcesses: map[string]domain.ExecutionProcess{}}
	}
	ch := patchchan.New(r.transport, r.endpoint(attemptID), seed,
		patchchan.WithLogger[domain.RosterSnapshot](r.logger.With("attempt", attemptID)),
		patchchan.WithBackoff[domain.RosterSnapshot](r.backoff[0], r.backoff[1]),
		patchchan.WithOnChange[domain.RosterSnapshot](onChange),
	)
	if err := ch.Open(ctx); err != nil {
		return nil, err
	}
	return &Subscription{attemptID: attemptID, channel: ch}, nil
}

// AttemptID returns the attempt this subscription belongs to.
func (s *Subscription) AttemptID() string { return s.attemptID }

// Processes returns the roster sorted by created_at ascending (id as
// tiebreaker for deterministic order).
func (s *Subscription) Processes() []domain.ExecutionProcess {
	snap := s.channel.Snapshot()
	procs := make([]domain.ExecutionProcess, 0, len(snap.ExecutionProcesses))
	for _, p := range snap.ExecutionProcesses {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].CreatedAt.Equal(procs[j].CreatedAt) {
			return procs[i].ID < procs[j].ID
		}
		return procs[i].CreatedAt.Before(procs[j].CreatedAt)
	})
	return procs
}

// ByID returns the id-indexed roster map.
func (s *Subscription) ByID() map[string]domain.ExecutionProcess {
	return s.channel.Snapshot().ExecutionProcesses
}

// Loading is true only before the first snapshot has been received.
func (s *Subscription) Loading() bool { return !s.channel.Ready() }

// Connected reports transport state; the UI shows a disconnected indicator
// from this rather than the subscription ever failing terminally.
func (s *Subscription) Connected() bool { return s.channel.Connected() }

// Err returns the channel's most recent surfaced error.
func (s *Subscription) Err() error { return s.channel.Err() }

// Close tears down the underlying channel.
func (s *Subscription) Close() { s.channel.Close() }
