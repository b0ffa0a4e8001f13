// Package draft autosaves the locally-edited follow-up draft back to the
// server with debounce and optimistic-concurrency versioning.
package draft

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"taskstream/internal/domain"
)

// Controller synchronizes one attempt's follow-up draft. Local edits are
// debounced before being written; every write carries the last-known server
// version. A version conflict silently adopts the server's value and raises a
// transient conflict flag, never a hard error. Status is a single explicit
// state machine rather than a cross-product of booleans.
type Controller struct {
	store     domain.DraftStore
	attemptID string
	debounce  time.Duration
	logger    *slog.Logger
	onChange  func()

	mu       sync.Mutex
	draft    domain.FollowUpDraft
	status   domain.DraftStatus
	conflict bool
	dirty    bool
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewController creates a Controller. onChange (optional) fires after every
// state transition so the UI can re-render.
func NewController(store domain.DraftStore, attemptID string, debounce time.Duration, logger *slog.Logger, onChange func()) *Controller {
	if debounce <= 0 {
		debounce = 400 * time.Millisecond
	}
	return &Controller{
		store:     store,
		attemptID: attemptID,
		debounce:  debounce,
		logger:    logger,
		onChange:  onChange,
		status:    domain.DraftEditable,
	}
}

// Start loads the current server draft. A missing draft starts empty at
// version zero.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	draft, err := c.store.GetDraft(ctx, c.attemptID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	c.draft = *draft
	if draft.Queued {
		c.status = domain.DraftQueued
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Close cancels pending saves.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Draft returns the current local draft value.
func (c *Controller) Draft() domain.FollowUpDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Status returns the controller state.
func (c *Controller) Status() domain.DraftStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Conflict reports the transient conflict indicator. It clears on the next
// edit or successful write.
func (c *Controller) Conflict() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflict
}

// SetPrompt records a local edit and (re)arms the debounce timer. Edits are
// accepted in Editable and Saving states; a queued draft must be unqueued
// before editing.
func (c *Controller) SetPrompt(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.DraftEditable && c.status != domain.DraftSaving {
		return
	}
	c.draft.Prompt = text
	c.dirty = true
	c.conflict = false
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.flush)
}

// flush writes the debounced edit. Runs on the timer goroutine.
func (c *Controller) flush() {
	c.mu.Lock()
	if !c.dirty || c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.dirty = false
	c.status = domain.DraftSaving
	prompt := c.draft.Prompt
	version := c.draft.Version
	ctx := c.ctx
	c.mu.Unlock()
	c.notify()

	saved, err := c.store.SaveDraft(ctx, c.attemptID, prompt, version)

	c.mu.Lock()
	switch {
	case err == nil:
		// Keep local edits typed while the save was in flight.
		if !c.dirty {
			c.draft.Prompt = saved.Prompt
		}
		c.draft.Version = saved.Version
		c.draft.Queued = saved.Queued
		c.conflict = false
	case errors.Is(err, domain.ErrConflict):
		c.adoptServer(ctx)
	default:
		// Transient failure: keep the edit dirty so the next debounce retries.
		c.logger.Warn("draft save failed", "error", err)
		c.dirty = true
	}
	if c.status == domain.DraftSaving {
		c.status = domain.DraftEditable
	}
	c.mu.Unlock()
	c.notify()
}

// Queue marks the draft queued for dispatch once the current process ends.
func (c *Controller) Queue(ctx context.Context) error {
	return c.setQueue(ctx, true, domain.DraftQueuing, domain.DraftQueued)
}

// Unqueue returns a queued draft to editing.
func (c *Controller) Unqueue(ctx context.Context) error {
	return c.setQueue(ctx, false, domain.DraftUnqueuing, domain.DraftEditable)
}

func (c *Controller) setQueue(ctx context.Context, queued bool, during, after domain.DraftStatus) error {
	c.mu.Lock()
	if queued && c.status != domain.DraftEditable {
		c.mu.Unlock()
		return nil
	}
	if !queued && c.status != domain.DraftQueued {
		c.mu.Unlock()
		return nil
	}
	c.status = during
	version := c.draft.Version
	c.mu.Unlock()
	c.notify()

	updated, err := c.store.SetQueue(ctx, c.attemptID, queued, version)

	c.mu.Lock()
	switch {
	case err == nil:
		c.draft = *updated
		c.status = after
		c.conflict = false
	case errors.Is(err, domain.ErrConflict):
		c.adoptServer(ctx)
		c.statusFromDraftLocked()
	default:
		c.statusFromDraftLocked()
		c.mu.Unlock()
		c.notify()
		return err
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// BeginSend enters the Sending state while the caller dispatches the
// follow-up; EndSend resets to an empty editable draft.
func (c *Controller) BeginSend() {
	c.mu.Lock()
	c.status = domain.DraftSending
	c.mu.Unlock()
	c.notify()
}

// EndSend completes a send.
func (c *Controller) EndSend() {
	c.mu.Lock()
	c.draft.Prompt = ""
	c.draft.Queued = false
	c.dirty = false
	c.status = domain.DraftEditable
	c.mu.Unlock()
	c.notify()
}

// adoptServer resolves a version conflict by taking the server's value
// wholesale and raising the transient conflict indicator. Callers hold c.mu;
// the lock is released around the network re-read so accessors and edits are
// never blocked behind it, then re-acquired before adopting.
func (c *Controller) adoptServer(ctx context.Context) {
	localVersion := c.draft.Version
	c.mu.Unlock()
	server, err := c.store.GetDraft(ctx, c.attemptID)
	c.mu.Lock()

	if err != nil {
		c.logger.Warn("draft conflict: re-read failed", "error", err)
		c.conflict = true
		return
	}
	if server.Version < localVersion {
		// A concurrent resolution installed a newer value while the lock was
		// released; keep it.
		c.conflict = true
		return
	}
	c.draft = *server
	c.dirty = false
	c.conflict = true
	c.logger.Info("draft conflict: adopted server version", "version", server.Version)
}

// statusFromDraftLocked derives the resting status from the draft's queued
// flag. Callers hold c.mu.
func (c *Controller) statusFromDraftLocked() {
	if c.draft.Queued {
		c.status = domain.DraftQueued
	} else {
		c.status = domain.DraftEditable
	}
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
