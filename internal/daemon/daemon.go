// Package daemon wires the Event Layer, Incremental Updater, and Retention
// sweep together into the always-on background process described by
// spec.md section 5, with the same context-cancel-then-wg.Wait() lifecycle
// the teacher's HTTP server uses.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rybkr/timelapse/internal/checkpoint"
	"github.com/rybkr/timelapse/internal/errkind"
	"github.com/rybkr/timelapse/internal/events"
	"github.com/rybkr/timelapse/internal/eventstream"
	"github.com/rybkr/timelapse/internal/ignore"
	"github.com/rybkr/timelapse/internal/journal"
	"github.com/rybkr/timelapse/internal/metrics"
	"github.com/rybkr/timelapse/internal/pathmap"
	"github.com/rybkr/timelapse/internal/publish"
	"github.com/rybkr/timelapse/internal/repo"
	"github.com/rybkr/timelapse/internal/retention"
	"github.com/rybkr/timelapse/internal/treecache"
	"github.com/rybkr/timelapse/internal/updater"
)

// Daemon is the always-on checkpoint engine for a single repository: one
// Event Layer watcher, one Updater (serialized through a single reconcile
// goroutine, the "Updater lock" spec.md section 5 calls for), and a
// ticker-driven Retention sweep.
type Daemon struct {
	repo    *repo.Repository
	watcher *events.Watcher
	upd     *updater.Updater
	journal *journal.Journal
	matcher *ignore.Matcher
	logger  *slog.Logger

	lock *repo.FileLock

	// gcMu is the in-process half of spec.md section 5's GC lock: the flock
	// acquired by AcquireGCLock only excludes other *processes*, so within
	// this process the reconcile goroutine takes the read side for the
	// duration of a reconcile pass and RunRetention takes the write side for
	// the duration of a sweep, keeping a sweep from deleting an object a
	// concurrently-committing checkpoint just wrote.
	gcMu sync.RWMutex

	stream *eventstream.Hub

	publish *publish.Bridge

	retentionInterval time.Duration
	reconcileInterval time.Duration

	deferredMu sync.Mutex
	deferred   map[string]bool

	flushCh chan flushRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// flushRequest asks the reconcile goroutine (the sole owner of the Updater,
// per spec.md section 5's Updater lock) to reconcile extraPaths on demand;
// resultCh always receives exactly one response.
type flushRequest struct {
	extraPaths []string
	trigger    checkpoint.Trigger
	resultCh   chan flushResult
}

type flushResult struct {
	checkpoint *checkpoint.Checkpoint
	err        error
}

// Config wires a Daemon to its dependencies. Repo is required; Logger
// defaults to slog.Default(), RetentionInterval to one hour, and ReconcileInterval
// which defaults to the repository's configured reconcile_interval_secs (60s
// if unset) and exists mainly so tests can shorten it.
type Config struct {
	Repo              *repo.Repository
	Logger            *slog.Logger
	RetentionInterval time.Duration
	ReconcileInterval time.Duration
}

// New constructs a Daemon. It opens the journal and loads (or creates) the
// PathMap snapshot, but does not start the watch loop; call Start for that.
func New(cfg Config) (*Daemon, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = time.Hour
	}
	reconcileInterval := cfg.ReconcileInterval
	if reconcileInterval <= 0 {
		reconcileInterval = time.Duration(cfg.Repo.Config().ReconcileIntervalSecs) * time.Second
	}
	if reconcileInterval <= 0 {
		reconcileInterval = time.Minute
	}

	j, err := journal.Open(cfg.Repo.JournalPath())
	if err != nil && err != journal.ErrTruncated {
		return nil, errkind.Wrap(errkind.IoError, err, "daemon: open journal")
	}
	if err == journal.ErrTruncated {
		cfg.Logger.Warn("journal tail was truncated on recovery")
	}

	pm, err := pathmap.Load(cfg.Repo.PathMapSnapshotPath())
	if err != nil {
		pm = pathmap.New(cfg.Repo.Algo())
	}

	matcher, err := ignore.Load(cfg.Repo.IgnoreFilePath())
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "daemon: load ignore file")
	}

	debounce := time.Duration(cfg.Repo.Config().DebounceMS) * time.Millisecond
	watcher, err := events.New(cfg.Repo.Root(), matcher, cfg.Logger, debounce)
	if err != nil {
		return nil, errkind.Wrap(errkind.IoError, err, "daemon: start watcher")
	}

	upd := updater.New(updater.Config{
		Root:         cfg.Repo.Root(),
		Algo:         cfg.Repo.Algo(),
		Store:        cfg.Repo.Store(),
		Journal:      j,
		PathMap:      pm,
		Ignore:       matcher,
		TreeCache:    treecache.New[[]byte](0),
		SnapshotPath: cfg.Repo.PathMapSnapshotPath(),
		Logger:       cfg.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())

	pcfg := cfg.Repo.Config().Publish
	bridge, err := publish.Open(cfg.Repo.PublishDir(), cfg.Repo.Store(), cfg.Repo.Algo(), publish.Author{
		Name:  pcfg.AuthorName,
		Email: pcfg.AuthorEmail,
	})
	if err != nil {
		cancel()
		return nil, errkind.Wrap(errkind.IoError, err, "daemon: open publish bridge")
	}

	return &Daemon{
		repo:              cfg.Repo,
		watcher:           watcher,
		upd:               upd,
		journal:           j,
		matcher:           matcher,
		logger:            cfg.Logger,
		stream:            eventstream.NewHub(cfg.Logger),
		publish:           bridge,
		retentionInterval: cfg.RetentionInterval,
		reconcileInterval: reconcileInterval,
		deferred:          make(map[string]bool),
		flushCh:           make(chan flushRequest),
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

// Stream returns the daemon's checkpoint event hub, for the IPC server and
// the optional local WebSocket feed to attach to.
func (d *Daemon) Stream() *eventstream.Hub { return d.stream }

// Journal exposes the daemon's journal for read-only IPC queries (status,
// log, diff).
func (d *Daemon) Journal() *journal.Journal { return d.journal }

// Repo exposes the daemon's Repository handle, for IPC's reference
// resolution and pin management.
func (d *Daemon) Repo() *repo.Repository { return d.repo }

// Matcher exposes the daemon's loaded ignore matcher, for restore's
// working-tree walk.
func (d *Daemon) Matcher() *ignore.Matcher { return d.matcher }

// Publish exposes the daemon's publish bridge, for the IPC
// publish/push/pull verbs.
func (d *Daemon) Publish() *publish.Bridge { return d.publish }

// DeferredCount reports how many paths are currently waiting on a stable
// read, for the IPC "status" verb.
func (d *Daemon) DeferredCount() int {
	d.deferredMu.Lock()
	defer d.deferredMu.Unlock()
	return len(d.deferred)
}

// RunRetention triggers an out-of-cycle retention sweep (the IPC "gc"
// verb) and returns its result.
func (d *Daemon) RunRetention() (retention.Result, error) {
	gcLock, err := d.repo.AcquireGCLock()
	if err != nil {
		return retention.Result{}, err
	}
	defer gcLock.Release() //nolint:errcheck

	d.gcMu.Lock()
	defer d.gcMu.Unlock()

	rcfg := d.repo.Config()
	policy := retention.Policy{
		KeepCount:    rcfg.Retention.KeepCount,
		KeepDuration: rcfg.KeepDurationParsed(),
	}
	return retention.Sweep(d.ctx, d.journal, d.repo.Store(), d.repo.Algo(), policy, d.repo.Store().Enumerate)
}

// Start acquires the daemon lock (failing with errkind.LockBusy if another
// daemon already holds it for this repository) and launches the watch,
// reconcile, and retention loops.
func (d *Daemon) Start() error {
	lock, err := d.repo.AcquireDaemonLock()
	if err != nil {
		return err
	}
	d.lock = lock

	d.watcher.Start(d.ctx)

	d.wg.Add(3)
	go d.reconcileLoop()
	go d.retentionLoop()
	go d.periodicReconcileLoop()
	return nil
}

// reconcileLoop is the Updater's single-goroutine serialization point: every
// batch from the event layer and every manual flush request is reconciled
// one at a time, in arrival order, so the Updater itself never needs to be
// safe for concurrent use.
func (d *Daemon) reconcileLoop() {
	defer d.wg.Done()
	batches := d.watcher.Batches()
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return
			}
			trigger := checkpoint.TriggerDebounce
			if batch.Overflow {
				trigger = checkpoint.TriggerRescan
			}
			d.reconcileBatch(batch, trigger)

		case req, ok := <-d.flushCh:
			if !ok {
				continue
			}
			cp, err := d.reconcileFlush(req.extraPaths, req.trigger)
			req.resultCh <- flushResult{checkpoint: cp, err: err}
		}
	}
}

// Flush forces an immediate manual reconcile over every currently-deferred
// path plus any path the caller already knows is dirty (the IPC "flush"
// verb), for example a recovery pass before a publish or restore. It hands
// the request to the reconcile goroutine and blocks for its result, so it
// is safe to call concurrently with the watcher's own batches.
func (d *Daemon) Flush(ctx context.Context, extraPaths []string) (*checkpoint.Checkpoint, error) {
	return d.flushWithTrigger(ctx, extraPaths, checkpoint.TriggerManual)
}

// FlushRestore records a post-restore re-checkpoint (spec.md's
// "restore(C); flush()" idempotence law), tagged checkpoint.TriggerRestore
// instead of an ordinary manual flush.
func (d *Daemon) FlushRestore(ctx context.Context, touchedPaths []string) (*checkpoint.Checkpoint, error) {
	return d.flushWithTrigger(ctx, touchedPaths, checkpoint.TriggerRestore)
}

// flushWithTrigger is Flush with an explicit trigger, shared by Flush,
// FlushRestore, and periodicReconcileLoop.
func (d *Daemon) flushWithTrigger(ctx context.Context, extraPaths []string, trigger checkpoint.Trigger) (*checkpoint.Checkpoint, error) {
	req := flushRequest{extraPaths: extraPaths, trigger: trigger, resultCh: make(chan flushResult, 1)}
	select {
	case d.flushCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ctx.Done():
		return nil, d.ctx.Err()
	}
	select {
	case res := <-req.resultCh:
		return res.checkpoint, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Daemon) reconcileFlush(extraPaths []string, trigger checkpoint.Trigger) (*checkpoint.Checkpoint, error) {
	d.deferredMu.Lock()
	paths := make([]string, 0, len(d.deferred)+len(extraPaths))
	for p := range d.deferred {
		paths = append(paths, p)
	}
	d.deferredMu.Unlock()
	paths = append(paths, extraPaths...)

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	d.gcMu.RLock()
	start := time.Now()
	result, err := d.upd.Reconcile(ctx, events.Batch{Paths: paths}, trigger)
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	d.gcMu.RUnlock()
	if err != nil {
		return nil, err
	}
	d.deferredMu.Lock()
	for _, p := range paths {
		delete(d.deferred, p)
	}
	remaining := len(d.deferred)
	d.deferredMu.Unlock()
	metrics.DeferredPathsGauge.Set(float64(remaining))
	d.recordDeferred(result.Deferred)
	if result.Checkpoint != nil {
		metrics.CheckpointsTotal.WithLabelValues(trigger.String()).Inc()
		metrics.JournalCheckpointsGauge.Set(float64(len(d.journal.All())))
		d.stream.Publish(eventstream.CheckpointEvent{Checkpoint: *result.Checkpoint})
		if err := d.repo.WriteHead(result.Checkpoint.ID); err != nil {
			d.logger.Error("failed to update HEAD", "err", err)
		}
	}
	return result.Checkpoint, nil
}

func (d *Daemon) reconcileBatch(batch events.Batch, trigger checkpoint.Trigger) {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	d.gcMu.RLock()
	start := time.Now()
	result, err := d.upd.Reconcile(ctx, batch, trigger)
	metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	d.gcMu.RUnlock()
	if err != nil {
		d.logger.Error("reconcile failed", "err", err)
		return
	}
	d.recordDeferred(result.Deferred)
	if result.Checkpoint == nil {
		return
	}
	d.logger.Info("checkpoint created",
		"id", result.Checkpoint.ID.String(),
		"root", result.Checkpoint.Root.Short(8),
		"trigger", trigger.String(),
		"paths", result.Checkpoint.Stats.PathsTouched,
	)
	metrics.CheckpointsTotal.WithLabelValues(trigger.String()).Inc()
	metrics.JournalCheckpointsGauge.Set(float64(len(d.journal.All())))
	if err := d.repo.WriteHead(result.Checkpoint.ID); err != nil {
		d.logger.Error("failed to update HEAD", "err", err)
	}
	d.stream.Publish(eventstream.CheckpointEvent{Checkpoint: *result.Checkpoint})
}

// recordDeferred tracks paths that failed the double-stat stability check so
// the next batch (or an explicit flush) retries them.
func (d *Daemon) recordDeferred(paths []string) {
	if len(paths) == 0 {
		return
	}
	d.deferredMu.Lock()
	for _, p := range paths {
		d.deferred[p] = true
	}
	n := len(d.deferred)
	d.deferredMu.Unlock()
	metrics.DeferredPathsGauge.Set(float64(n))
}

// retentionLoop runs a mark-and-sweep retention pass on a fixed interval,
// grounded on the same ticker-plus-ctx.Done() select loop the teacher's
// scheduler uses for its periodic eviction pass.
func (d *Daemon) retentionLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runRetention()
		}
	}
}

// periodicReconcileLoop retries paths still sitting in d.deferred on a fixed
// interval (internal/repo.Config's reconcile_interval_secs), the standing
// safety net for a path stuck failing its double-stat stability check: absent
// a further filesystem event on that path, nothing else would ever retry it.
func (d *Daemon) periodicReconcileLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.DeferredCount() == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
			if _, err := d.flushWithTrigger(ctx, nil, checkpoint.TriggerDebounce); err != nil {
				d.logger.Warn("periodic deferred-path retry failed", "err", err)
			}
			cancel()
		}
	}
}

func (d *Daemon) runRetention() {
	result, err := d.RunRetention()
	if err != nil {
		d.logger.Warn("retention sweep skipped", "err", err)
		return
	}
	metrics.GCObjectsSweptTotal.Add(float64(result.Swept))
	metrics.GCLiveObjectsGauge.Set(float64(result.Live))
	metrics.GCJournalPrunedTotal.Add(float64(result.Pruned))
	d.logger.Info("retention sweep complete",
		"live", result.Live,
		"reachable", result.Reachable,
		"swept", result.Swept,
		"pruned", result.Pruned,
	)
}

// Shutdown cancels the daemon's context, waits for every goroutine to exit,
// waits for the watcher to fully drain, closes the journal, and releases the
// daemon lock — in that order, mirroring server.Server.Shutdown.
func (d *Daemon) Shutdown() {
	d.logger.Info("daemon shutting down")
	d.cancel()
	d.wg.Wait()
	d.watcher.Wait()
	d.stream.Close()
	if err := d.journal.Close(); err != nil {
		d.logger.Error("failed to close journal", "err", err)
	}
	if err := d.lock.Release(); err != nil {
		d.logger.Error("failed to release daemon lock", "err", err)
	}
	d.logger.Info("daemon shutdown complete")
}
