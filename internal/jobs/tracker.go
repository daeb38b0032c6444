// Package jobs tracks download jobs running on the plugin backend.
//
// A Tracker starts downloads, polls each started job once per PollInterval
// until it reaches a terminal status, and refreshes the whole Registry every
// RefreshInterval while any job is still active. Per-key polls and bulk
// refreshes race; the last write per key wins, except that the status of a
// completed or failed job never changes outside a bulk refresh.
package jobs

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/crocstore/internal/crocdb"
	"github.com/italolelis/crocstore/internal/logctx"
	"github.com/italolelis/crocstore/internal/telemetry"
)

const (
	DefaultPollInterval    = time.Second
	DefaultRefreshInterval = 2 * time.Second

	defaultSubscriberBuffer = 64
)

// Backend is the subset of the backend client the tracker drives.
type Backend interface {
	DownloadROM(ctx context.Context, romID string, rom crocdb.ROM) bool
	GetDownloadProgress(ctx context.Context, romID string) *crocdb.DownloadProgress
	GetAllDownloads(ctx context.Context) map[string]crocdb.DownloadProgress
}

type Config struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
}

type Option func(*Tracker)

// WithTelemetry records polls and registry changes.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(t *Tracker) {
		t.telemetry = tel
	}
}

type Tracker struct {
	backend         Backend
	registry        *Registry
	telemetry       *telemetry.Telemetry
	pollInterval    time.Duration
	refreshInterval time.Duration

	// scope bounds every poll loop; Stop cancels it.
	scope  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// refreshed is set by the first RefreshAll.
	refreshed atomic.Bool

	mu      sync.Mutex
	polling map[string]struct{}
	subs    map[int]chan Event
	nextSub int
	stopped bool
}

func NewTracker(backend Backend, registry *Registry, cfg Config, opts ...Option) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	scope, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		backend:         backend,
		registry:        registry,
		pollInterval:    cfg.PollInterval,
		refreshInterval: cfg.RefreshInterval,
		scope:           scope,
		cancel:          cancel,
		polling:         map[string]struct{}{},
		subs:            map[int]chan Event{},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Registry returns the registry the tracker writes to.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// StartResult is the outcome of a start request.
type StartResult string

const (
	StartAccepted StartResult = "accepted"
	// StartInvalid means the ROM has no id.
	StartInvalid StartResult = "invalid_rom"
	// StartDuplicate means the ROM has a non-terminal job or a running poll loop.
	StartDuplicate StartResult = "already_in_progress"
	// StartRejected means the backend did not accept the download.
	StartRejected StartResult = "rejected_by_backend"
	// StartStopped means the tracker no longer accepts jobs.
	StartStopped StartResult = "tracker_stopped"
)

// StartJob asks the backend to download rom and, when it accepts, polls the
// job until it is terminal. It reports whether the download was accepted.
func (t *Tracker) StartJob(ctx context.Context, rom crocdb.ROM) bool {
	return t.Submit(ctx, rom) == StartAccepted
}

// Submit is StartJob with the reason a request was not accepted. The request
// is refused without contacting the backend while the ROM has a non-terminal
// job or a running poll loop.
func (t *Tracker) Submit(ctx context.Context, rom crocdb.ROM) StartResult {
	key := rom.ID
	logger := logctx.LoggerFromContext(ctx).With("rom_id", key)

	if key == "" {
		logger.WarnContext(ctx, "refusing to start a download without a rom id")

		return StartInvalid
	}

	if res := t.reserve(key); res != StartAccepted {
		logger.InfoContext(ctx, "ignoring start request", "reason", string(res))

		return res
	}

	// Stop must not wait on a backend call that outlives the tracker.
	callCtx, cancelCall := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(t.scope, cancelCall)

	accepted := t.backend.DownloadROM(callCtx, key, rom)

	stopAfter()
	cancelCall()

	if !accepted {
		t.release(key)
		t.wg.Done()
		logger.WarnContext(ctx, "backend did not accept the download")

		return StartRejected
	}

	logger.InfoContext(ctx, "download started", "name", rom.Name, "platform", rom.Platform)

	loopCtx := logctx.WithJobKey(logctx.WithLogger(t.scope, logger), key)

	t.telemetry.IncrementJobsPolling()

	go t.poll(loopCtx, key)

	return StartAccepted
}

// reserve claims key for a new poll loop and counts it in the wait group.
// The caller must call wg.Done once the claim ends.
func (t *Tracker) reserve(key string) StartResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return StartStopped
	}

	if _, running := t.polling[key]; running {
		return StartDuplicate
	}

	if job, ok := t.registry.Get(key); ok && job.Status.IsActive() {
		return StartDuplicate
	}

	t.polling[key] = struct{}{}
	t.wg.Add(1)

	return StartAccepted
}

func (t *Tracker) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.polling, key)
}

// Polling returns the keys that currently have a running poll loop.
func (t *Tracker) Polling() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.polling))
	for k := range t.polling {
		keys = append(keys, k)
	}

	return keys
}

func (t *Tracker) poll(ctx context.Context, key string) {
	logger := logctx.LoggerFromContext(ctx)

	defer t.wg.Done()
	defer t.telemetry.DecrementJobsPolling()
	defer t.release(key)
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "poll loop panic",
				"operation", "poll_job",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	first := true

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "poll loop cancelled")

			return
		case <-timer.C:
			_, again := t.pollOnce(ctx, key, first)
			if !again {
				return
			}

			first = false

			timer.Reset(t.pollInterval)
		}
	}
}

// PollOnce fetches the snapshot for key and merges it into the registry.
// reschedule is true iff the fetched status is starting or downloading;
// a nil snapshot means the backend has no job for key or the call failed.
func (t *Tracker) PollOnce(ctx context.Context, key string) (job *crocdb.DownloadProgress, reschedule bool) {
	return t.pollOnce(ctx, key, false)
}

func (t *Tracker) pollOnce(ctx context.Context, key string, overwrite bool) (*crocdb.DownloadProgress, bool) {
	logger := logctx.LoggerFromContext(ctx)

	job := t.backend.GetDownloadProgress(ctx, key)
	if job == nil {
		t.telemetry.RecordJobPoll("missing")
		logger.DebugContext(ctx, "no progress reported, stopping poll", "rom_id", key)

		return nil, false
	}

	t.telemetry.RecordJobPoll(string(job.Status))

	var (
		prev    crocdb.DownloadProgress
		existed bool
		applied = true
	)

	if overwrite {
		// A restarted job reports its first snapshot as new even if an
		// earlier run of the same ROM left an identical terminal entry.
		prev, _ = t.registry.Set(key, *job)
	} else {
		prev, existed, applied = t.registry.Merge(key, *job)
	}

	if !applied {
		logger.DebugContext(ctx, "ignoring stale snapshot for finished job",
			"rom_id", key, "status", job.Status, "current", prev.Status)
	} else if ev, changed := changeEvent(key, prev, existed, *job); changed {
		logger.DebugContext(ctx, "job progress",
			"rom_id", key,
			"status", job.Status,
			"progress", job.Progress,
			"downloaded", humanize.IBytes(uint64(max(job.DownloadedSize, 0))),
			"total", humanize.IBytes(uint64(max(job.TotalSize, 0))))
		t.publish(ev)
	}

	return job, job.Status.IsActive()
}

// RefreshAll replaces the registry with the backend's full job list and
// publishes a finished or failed event for every job that became terminal.
func (t *Tracker) RefreshAll(ctx context.Context) {
	t.refreshed.Store(true)

	jobs := t.backend.GetAllDownloads(ctx)
	prev := t.registry.Replace(jobs)

	for key, job := range jobs {
		old, existed := prev[key]

		ev, changed := changeEvent(key, old, existed, job)
		if changed && ev.Kind != EventUpdated {
			t.publish(ev)
		}
	}

	t.publish(Event{Kind: EventRefreshed, At: time.Now()})
}

// Run refreshes once unless a bulk refresh already happened, then refreshes
// every RefreshInterval while any job is active. It blocks until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if !t.refreshed.Load() {
		t.RefreshAll(ctx)
	}

	ticker := time.NewTicker(t.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("job tracker shutdown",
				"operation", "refresh_jobs",
				"reason", "context_cancelled")

			return
		case <-ticker.C:
			if t.registry.HasActive() {
				t.RefreshAll(ctx)
			}
		}
	}
}

// Start runs Run in a goroutine and restarts it after a panic until ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("starting job tracker",
		"poll_interval", t.pollInterval.String(),
		"refresh_interval", t.refreshInterval.String())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job tracker panic",
					"operation", "refresh_jobs",
					"panic", r,
					"stack", string(debug.Stack()))

				if ctx.Err() == nil {
					logger.Info("restarting job tracker after panic", "operation", "refresh_jobs")
					time.Sleep(time.Second)
					t.Start(ctx)
				}
			}
		}()

		t.Run(ctx)
	}()
}

// Stop cancels every outstanding poll loop, waits for them to exit and closes
// all subscriber channels. StartJob is rejected afterwards.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()

		return
	}
	t.stopped = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Subscribe returns a channel of registry events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}

	ch := make(chan Event, buffer)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		close(ch)

		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()

			if _, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(ch)
			}
		})
	}
}

func (t *Tracker) publish(ev Event) {
	t.telemetry.RecordJobEvent(string(ev.Kind))

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
