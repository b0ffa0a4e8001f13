// Package patchchan maintains a live local replica of a server-held JSON
// document by applying streamed RFC 6902 patch batches to a snapshot, with
// capped-exponential reconnection on transport loss.
package patchchan

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/oklog/ulid/v2"

	"taskstream/internal/domain"
	"taskstream/internal/infra/tracer"
)

// Filter de-duplicates or drops operations before a batch is applied.
// Returning an empty patch turns the batch into a no-op.
type Filter func(jsonpatch.Patch) jsonpatch.Patch

// Option configures a Channel.
type Option[T any] func(*Channel[T])

// WithFilter installs a de-duplication filter run on every batch.
func WithFilter[T any](f Filter) Option[T] {
	return func(c *Channel[T]) { c.filter = f }
}

// WithLogger sets the channel logger.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(c *Channel[T]) { c.logger = l }
}

// WithBackoff overrides the reconnect schedule (base delay and cap).
func WithBackoff[T any](base, cap time.Duration) Option[T] {
	return func(c *Channel[T]) { c.backoff = NewBackoff(base, cap) }
}

// WithOnChange registers a callback invoked after every snapshot publish and
// every connection-state transition. The callback runs on the channel's own
// goroutine; it must not block and must not call back into the channel.
func WithOnChange[T any](fn func()) Option[T] {
	return func(c *Channel[T]) { c.onChange = fn }
}

// Channel owns one streaming subscription to a server resource and exposes
// the always-current decoded snapshot. The snapshot is seeded locally before
// any network data arrives, so consumers never observe a nil state. Every
// applied batch produces new document bytes and a freshly decoded value;
// snapshots handed out earlier are never mutated.
type Channel[T any] struct {
	id        string
	endpoint  string
	transport domain.Transport
	seed      func() *T
	filter    Filter
	onChange  func()
	backoff   *Backoff
	logger    *slog.Logger

	mu        sync.RWMutex
	raw       []byte
	current   *T
	ready     bool // first server event processed
	connected bool
	lastErr   error

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Channel over the given transport and endpoint. The seed
// factory provides the initial snapshot; the endpoint must be stable for the
// channel's lifetime (changing it means Close and open a new channel).
func New[T any](transport domain.Transport, endpoint string, seed func() *T, opts ...Option[T]) *Channel[T] {
	c := &Channel[T]{
		id:        newID(),
		endpoint:  endpoint,
		transport: transport,
		seed:      seed,
		backoff:   NewBackoff(time.Second, 8*time.Second),
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("channel", c.id, "endpoint", endpoint)
	return c
}

// ID returns the channel's ulid, used for log correlation.
func (c *Channel[T]) ID() string { return c.id }

// Open seeds the snapshot and starts the subscription loop. It returns
// immediately; connection progress is observable via Connected and Err.
func (c *Channel[T]) Open(ctx context.Context) error {
	initial := c.seed()
	raw, err := json.Marshal(initial)
	if err != nil {
		return domain.NewDomainError("Channel.Open", err, "marshal seed snapshot")
	}

	c.mu.Lock()
	c.raw = raw
	c.current = initial
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

// Close tears down the transport and cancels any pending reconnect timer.
// Safe to call multiple times and on every exit path.
func (c *Channel[T]) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	})
}

// Snapshot returns the current decoded snapshot. The returned value is never
// mutated by subsequent batches.
func (c *Channel[T]) Snapshot() *T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Ready reports whether at least one server event has been processed.
func (c *Channel[T]) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Connected reports whether the transport is currently open.
func (c *Channel[T]) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Err returns the most recent surfaced error, cleared on the next
// successfully applied batch.
func (c *Channel[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// run is the subscription loop: open, consume until the stream ends, back
// off, repeat. A server "finished" event is treated exactly like a transport
// drop because the server may intentionally rotate streams. There is no
// give-up: connection loss is retried indefinitely.
func (c *Channel[T]) run(ctx context.Context) {
	defer close(c.done)

	for {
		spanCtx, span := tracer.StartSpan(ctx, "patchchan.open")
		events, err := c.transport.Open(spanCtx, c.endpoint)
		if err != nil {
			tracer.RecordError(span, err)
			span.End()
			if ctx.Err() != nil {
				return
			}
			c.setDisconnected(domain.NewDomainError("Channel.run", domain.ErrTransport, err.Error()))
			if !c.sleep(ctx, c.backoff.Next()) {
				return
			}
			continue
		}
		span.End()

		c.backoff.Reset()
		c.setConnected()
		c.consume(ctx, events)

		if ctx.Err() != nil {
			return
		}
		c.setDisconnected(nil)
		if !c.sleep(ctx, c.backoff.Next()) {
			return
		}
	}
}

// consume drains one open stream until it ends or ctx is cancelled.
func (c *Channel[T]) consume(ctx context.Context, events <-chan domain.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Transport dropped.
				return
			}
			switch {
			case ev.Finished:
				c.logger.Debug("stream finished, scheduling reconnect")
				return
			case ev.Snapshot != nil:
				c.replace(ev.Snapshot)
			case ev.Patch != nil:
				c.apply(ev.Patch)
			}
		}
	}
}

// apply validates and applies one patch batch to a copy of the document. A
// batch that fails validation or targets a missing path is dropped and the
// error surfaced, but the snapshot stays intact and the stream stays open.
func (c *Channel[T]) apply(raw json.RawMessage) {
	if err := ValidateBatch(raw); err != nil {
		c.surface(err)
		return
	}
	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		c.surface(domain.NewDomainError("Channel.apply", domain.ErrBadPatch, err.Error()))
		return
	}
	if c.filter != nil {
		patch = c.filter(patch)
	}

	c.mu.RLock()
	doc := c.raw
	c.mu.RUnlock()

	if len(patch) == 0 {
		// Empty after de-duplication: the event still counts as received.
		c.markReady()
		return
	}

	modified, err := patch.Apply(doc)
	if err != nil {
		c.surface(domain.NewDomainError("Channel.apply", domain.ErrBadPatch, err.Error()))
		return
	}
	c.publish(modified)
}

// replace installs a whole replacement document (polling transport).
func (c *Channel[T]) replace(raw json.RawMessage) {
	c.publish(raw)
}

func (c *Channel[T]) publish(doc []byte) {
	next := new(T)
	if err := json.Unmarshal(doc, next); err != nil {
		c.surface(domain.NewDomainError("Channel.publish", domain.ErrBadPatch, err.Error()))
		return
	}

	c.mu.Lock()
	c.raw = doc
	c.current = next
	c.ready = true
	c.lastErr = nil
	c.mu.Unlock()

	c.notify()
}

func (c *Channel[T]) markReady() {
	c.mu.Lock()
	already := c.ready
	c.ready = true
	c.mu.Unlock()
	if !already {
		c.notify()
	}
}

func (c *Channel[T]) surface(err error) {
	c.logger.Warn("patch batch dropped", "error", err)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
}

func (c *Channel[T]) setConnected() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.notify()
}

func (c *Channel[T]) setDisconnected(err error) {
	c.mu.Lock()
	c.connected = false
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.logger.Debug("disconnected", "error", err)
	c.notify()
}

func (c *Channel[T]) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}

// newID generates a ulid for log correlation.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// sleep waits for d or until ctx is cancelled; the timer is released on both
// paths. Returns false when the channel should stop.
func (c *Channel[T]) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
