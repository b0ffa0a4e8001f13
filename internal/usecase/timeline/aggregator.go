// Package timeline merges the process roster, one-shot historic log fetches
// and the single live log subscription into one ordered, keyed conversation
// timeline per attempt.
package timeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskstream/internal/domain"
	"taskstream/internal/usecase/registry"
)

// Config tunes the aggregation state machine.
type Config struct {
	InitialEntries    int           // historic entries accumulated before the first emit
	BackfillBatch     int           // entries added per backfill round
	BackfillPause     time.Duration // pause between backfill rounds
	LiveRetryAttempts int           // live-stream open attempts before giving up this roster pass
	LiveRetryDelay    time.Duration // spacing between open attempts
}

func (c *Config) applyDefaults() {
	if c.InitialEntries <= 0 {
		c.InitialEntries = 10
	}
	if c.BackfillBatch <= 0 {
		c.BackfillBatch = 50
	}
	if c.BackfillPause <= 0 {
		c.BackfillPause = time.Second
	}
	if c.LiveRetryAttempts <= 0 {
		c.LiveRetryAttempts = 20
	}
	if c.LiveRetryDelay <= 0 {
		c.LiveRetryDelay = 500 * time.Millisecond
	}
}

// Aggregator is the central state machine. One aggregator serves one attempt
// at a time; switching attempts resets it synchronously. All store mutations
// re-validate the subscription generation after every blocking call, so
// results of stale fetches are discarded rather than merged.
type Aggregator struct {
	registry *registry.Registry
	fetcher  domain.EntryFetcher
	streamer domain.LiveStreamer
	cfg      Config
	logger   *slog.Logger

	mu              sync.Mutex
	attemptID       string
	generation      uint64
	store           *Store
	sub             *registry.Subscription
	runCtx          context.Context
	cancel          context.CancelFunc
	emitFn          func(domain.TimelineUpdate)
	initialLoaded   bool
	historicStarted bool
	backfilling     bool
	liveProcID      string

	emitMu sync.Mutex // serializes emissions so consumers see them in order
}

// New creates an Aggregator.
func New(reg *registry.Registry, fetcher domain.EntryFetcher, streamer domain.LiveStreamer, cfg Config, logger *slog.Logger) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{
		registry: reg,
		fetcher:  fetcher,
		streamer: streamer,
		cfg:      cfg,
		logger:   logger,
		store:    NewStore(),
	}
}

// Subscribe targets an attempt and starts emitting timeline updates. Changing
// the attempt id resets everything synchronously and emits an empty initial
// update with the loading flag before any fetch begins, so the previous
// attempt's content is never shown under the new identity. Re-subscribing to
// the same attempt only swaps the emitter.
func (a *Aggregator) Subscribe(ctx context.Context, attemptID string, emit func(domain.TimelineUpdate)) error {
	a.mu.Lock()
	if attemptID == a.attemptID && a.sub != nil {
		a.emitFn = emit
		gen := a.generation
		phase := domain.PhaseInitial
		a.mu.Unlock()
		a.emit(gen, phase)
		return nil
	}

	oldCancel := a.cancel
	oldSub := a.sub
	a.sub = nil
	a.generation++
	gen := a.generation
	a.attemptID = attemptID
	a.store.Reset()
	a.initialLoaded = false
	a.historicStarted = false
	a.backfilling = false
	a.liveProcID = ""
	a.emitFn = emit
	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.cancel = cancel
	a.mu.Unlock()

	// Tear down outside the lock: the old channel may be mid-delivery into
	// onRosterChange, which needs the lock to see its generation is stale.
	// Closing while holding it would wait on that delivery forever.
	if oldCancel != nil {
		oldCancel()
	}
	if oldSub != nil {
		oldSub.Close()
	}

	a.emitMu.Lock()
	emit(domain.TimelineUpdate{Entries: []domain.TimelineEntry{}, Phase: domain.PhaseInitial, Loading: true})
	a.emitMu.Unlock()

	sub, err := a.registry.Subscribe(runCtx, attemptID, func() { a.onRosterChange(gen) })
	if err != nil {
		return err
	}

	a.mu.Lock()
	if gen != a.generation {
		a.mu.Unlock()
		sub.Close()
		return nil
	}
	a.sub = sub
	a.mu.Unlock()
	return nil
}

// Close tears down the current subscription and all in-flight work.
func (a *Aggregator) Close() {
	a.mu.Lock()
	cancel := a.cancel
	sub := a.sub
	a.cancel = nil
	a.sub = nil
	a.generation++
	a.store.Reset()
	a.emitFn = nil
	a.backfilling = false
	a.mu.Unlock()

	// Same as Subscribe: closing the channel must not happen under the lock
	// its in-flight callbacks are waiting for.
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
}

// Connected reports the roster channel's transport state.
func (a *Aggregator) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sub != nil && a.sub.Connected()
}

// Err returns the roster channel's most recent surfaced error.
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return nil
	}
	return a.sub.Err()
}

// onRosterChange reconciles the store with the roster, kicks off the historic
// load once, retargets the live subscription, and re-emits.
func (a *Aggregator) onRosterChange(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || a.sub == nil {
		a.mu.Unlock()
		return
	}
	byID := a.sub.ByID()
	a.store.Sync(byID)

	startHistoric := false
	if !a.historicStarted && len(byID) > 0 && !a.sub.Loading() {
		a.historicStarted = true
		a.backfilling = true
		startHistoric = true
	}

	var running []domain.ExecutionProcess
	for _, p := range byID {
		if p.Status == domain.ProcessStatusRunning {
			running = append(running, p)
		}
	}
	var startLive *domain.ExecutionProcess
	if len(running) == 1 {
		if running[0].ID != a.liveProcID {
			a.liveProcID = running[0].ID
			p := running[0]
			startLive = &p
		}
	} else {
		// Zero or several running processes: no live target.
		a.liveProcID = ""
	}

	// A process can become fetchable long after the first backfill pass
	// ended: a second concurrent run completing, a live stream that dropped
	// before finishing, a live open that never succeeded. Re-arm the scan
	// whenever the roster leaves such a process behind.
	rescan := false
	if !startHistoric && a.initialLoaded && !a.backfilling && a.store.HasUnfetched() {
		a.backfilling = true
		rescan = true
	}

	runCtx := a.runCtx
	initialLoaded := a.initialLoaded
	a.mu.Unlock()

	if startHistoric {
		go a.loadHistoric(runCtx, gen)
	}
	if rescan {
		go a.rescanHistoric(runCtx, gen)
	}
	if startLive != nil {
		go a.goLive(runCtx, gen, *startLive)
	}
	if initialLoaded {
		a.emit(gen, domain.PhaseRunning)
	}
}

// valid reports whether gen is still the current subscription generation.
func (a *Aggregator) valid(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return gen == a.generation
}

// loadHistoric is the Loading-Historic then Backfilling phases: fetch
// non-running processes newest-first until the initial threshold, emit
// initial, then backfill in paced rounds until a scan adds nothing new.
func (a *Aggregator) loadHistoric(ctx context.Context, gen uint64) {
	defer a.finishBackfill(ctx, gen)

	for a.store.EntryCount() <= a.cfg.InitialEntries {
		if ctx.Err() != nil || !a.valid(gen) {
			return
		}
		proc, ok := a.store.NextUnfetched()
		if !ok {
			break
		}
		entries := a.fetchOne(ctx, proc)
		if !a.valid(gen) {
			return
		}
		a.store.SetFetched(proc.ID, entries)
	}

	if !a.valid(gen) {
		return
	}
	a.mu.Lock()
	a.initialLoaded = true
	a.mu.Unlock()
	a.emit(gen, domain.PhaseInitial)

	a.backfill(ctx, gen)
}

// rescanHistoric runs one more backfill pass for processes that became
// fetchable after the previous pass ended.
func (a *Aggregator) rescanHistoric(ctx context.Context, gen uint64) {
	defer a.finishBackfill(ctx, gen)
	a.backfill(ctx, gen)
}

// backfill fetches remaining unfetched processes in paced rounds until a scan
// adds nothing new.
func (a *Aggregator) backfill(ctx context.Context, gen uint64) {
	limiter := rate.NewLimiter(rate.Every(a.cfg.BackfillPause), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		added := 0
		fetchedAny := false
		for added <= a.cfg.BackfillBatch {
			if ctx.Err() != nil || !a.valid(gen) {
				return
			}
			proc, ok := a.store.NextUnfetched()
			if !ok {
				break
			}
			entries := a.fetchOne(ctx, proc)
			if !a.valid(gen) {
				return
			}
			if a.store.SetFetched(proc.ID, entries) {
				added += len(entries)
				fetchedAny = true
			}
		}
		if !fetchedAny {
			return
		}
		a.emit(gen, domain.PhaseHistoric)
	}
}

// finishBackfill releases the scan guard. A process may have become fetchable
// in the window between the last empty scan and this release; start another
// pass instead of dropping the guard so such a process is never stranded.
func (a *Aggregator) finishBackfill(ctx context.Context, gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.generation {
		return
	}
	if ctx.Err() == nil && a.store.HasUnfetched() {
		go a.rescanHistoric(ctx, gen)
		return
	}
	a.backfilling = false
}

// fetchOne degrades a failed historic fetch to an empty entry list so one bad
// process never aborts a whole batch.
func (a *Aggregator) fetchOne(ctx context.Context, proc domain.ExecutionProcess) []domain.LogEntry {
	entries, err := a.fetcher.FetchEntries(ctx, proc)
	if err != nil {
		a.logger.Warn("historic fetch failed, contributing empty entries",
			"process", proc.ID, "error", err)
		return []domain.LogEntry{}
	}
	return entries
}

// goLive opens and consumes the live subscription for proc. Opening is
// retried on a fixed spacing; a stream that completes leaves its entries in
// the store and needs no re-fetch, a stream that drops clears the live
// tracker so the next roster pass can reopen it.
func (a *Aggregator) goLive(ctx context.Context, gen uint64, proc domain.ExecutionProcess) {
	var updates <-chan domain.LogUpdate
	for attempt := 1; attempt <= a.cfg.LiveRetryAttempts; attempt++ {
		if ctx.Err() != nil || !a.valid(gen) {
			return
		}
		u, err := a.streamer.StreamEntries(ctx, proc)
		if err == nil {
			updates = u
			break
		}
		a.logger.Debug("live stream open failed",
			"process", proc.ID, "attempt", attempt, "error", err)
		timer := time.NewTimer(a.cfg.LiveRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	if updates == nil {
		a.logger.Warn("live stream never started", "process", proc.ID)
		a.clearLive(gen, proc.ID)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				// Dropped mid-stream; the next roster change reopens it.
				a.clearLive(gen, proc.ID)
				return
			}
			if !a.valid(gen) {
				return
			}
			if upd.Finished {
				a.store.MarkFetched(proc.ID)
				a.clearLive(gen, proc.ID)
				a.emit(gen, domain.PhaseRunning)
				return
			}
			if a.store.SetEntries(proc.ID, upd.Entries) {
				a.emit(gen, domain.PhaseRunning)
			}
		}
	}
}

func (a *Aggregator) clearLive(gen uint64, procID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen == a.generation && a.liveProcID == procID {
		a.liveProcID = ""
	}
}

// emit derives the timeline from current state and delivers it, unless gen is
// stale. Derivation happens at every emit and is never cached.
func (a *Aggregator) emit(gen uint64, phase domain.Phase) {
	a.mu.Lock()
	if gen != a.generation || a.emitFn == nil {
		a.mu.Unlock()
		return
	}
	emitFn := a.emitFn
	live := a.liveProcID
	loading := !a.initialLoaded
	a.mu.Unlock()

	states := a.store.Sorted()
	entries := derive(states, live)
	if entries == nil {
		entries = []domain.TimelineEntry{}
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if !a.valid(gen) {
		return
	}
	emitFn(domain.TimelineUpdate{Entries: entries, Phase: phase, Loading: loading})
}
