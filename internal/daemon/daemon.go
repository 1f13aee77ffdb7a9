// Package daemon provides the long-running process that keeps the local
// store in step with the device call log and the recording directory.
//
// The daemon:
// 1. Periodically ingests new calls from the configured source
// 2. Watches the recording directory and matches finished files
// 3. Publishes sync status snapshots to the dashboard
// 4. Handles graceful shutdown
//
// Configuration is re-read on every ingestion tick, so policy changes
// (SIM selection, tracking start, recording toggles) take effect
// without a restart.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/miniclick/calltrackd/internal/config"
	"github.com/miniclick/calltrackd/internal/dashboard"
	"github.com/miniclick/calltrackd/internal/ingest"
	"github.com/miniclick/calltrackd/internal/resolver"
	"github.com/miniclick/calltrackd/internal/status"
)

// Options holds daemon tuning knobs.
type Options struct {
	// DebounceInterval is how long to wait before matching a recording
	// file after its last write event. Recorder apps append for the
	// whole call; this batches the event burst into one match attempt.
	DebounceInterval time.Duration

	// StatusPollInterval is how often the pending counters are checked
	// for dashboard broadcasts.
	StatusPollInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		DebounceInterval:   2 * time.Second,
		StatusPollInterval: 2 * time.Second,
		Logger:             log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates ingestion, recording resolution, and status
// broadcasting.
type Daemon struct {
	cfgFile  string
	pipeline *ingest.Pipeline
	resolver *resolver.Resolver
	statusEn *status.Engine
	dash     *dashboard.Server // nil when the dashboard is disabled
	opts     *Options

	// cfg is the most recently loaded configuration.
	cfg   *config.Config
	cfgMu sync.RWMutex

	watcher       *resolver.RecordingWatcher
	changeQueue   map[string]time.Time // recording path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. cfg is the already-loaded configuration;
// cfgFile is re-read on every ingestion tick (empty means defaults plus
// environment).
func New(cfgFile string, cfg *config.Config, pipeline *ingest.Pipeline, res *resolver.Resolver,
	statusEn *status.Engine, dash *dashboard.Server, opts *Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if res == nil {
		return nil, fmt.Errorf("resolver cannot be nil")
	}
	if statusEn == nil {
		return nil, fmt.Errorf("status engine cannot be nil")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		cfgFile:     cfgFile,
		pipeline:    pipeline,
		resolver:    res,
		statusEn:    statusEn,
		dash:        dash,
		opts:        opts,
		cfg:         cfg,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start runs the daemon until ctx is cancelled.
//
// On startup it performs one full ingestion pass and one recording
// sweep, then settles into the periodic loops.
func (d *Daemon) Start(ctx context.Context) error {
	d.opts.Logger.Println("starting daemon")

	if err := d.runIngest(); err != nil {
		return fmt.Errorf("initial ingest failed: %w", err)
	}
	d.runSweep()

	if dir := d.currentConfig().RecordingDir; dir != "" {
		watcher, err := resolver.NewRecordingWatcher()
		if err != nil {
			return fmt.Errorf("failed to create recording watcher: %w", err)
		}
		if err := watcher.Start(dir); err != nil {
			return fmt.Errorf("failed to watch recordings: %w", err)
		}
		d.watcher = watcher
		d.opts.Logger.Printf("watching recordings in %s", dir)

		d.wg.Add(2)
		go d.watchRecordingEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(2)
	go d.ingestLoop()
	go d.sweepLoop()

	if d.dash != nil {
		d.wg.Add(1)
		go d.statusLoop()
	}

	select {
	case <-ctx.Done():
		d.opts.Logger.Println("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.opts.Logger.Println("stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.opts.Logger.Printf("error stopping watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.opts.Logger.Println("daemon stopped")
	return nil
}

func (d *Daemon) currentConfig() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// reloadConfig re-reads the config file, keeping the previous
// configuration when the file has become invalid.
func (d *Daemon) reloadConfig() *config.Config {
	cfg, err := config.Load(d.cfgFile)
	if err != nil {
		d.opts.Logger.Printf("config reload failed, keeping previous: %v", err)
		return d.currentConfig()
	}

	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
	return cfg
}

// runIngest executes one ingestion pass under freshly loaded policy.
func (d *Daemon) runIngest() error {
	cfg := d.reloadConfig()

	res, err := d.pipeline.Run(d.ctx, cfg)
	if err != nil {
		return err
	}
	for _, rowErr := range res.RowErrors {
		d.opts.Logger.Printf("ingest warning: %v", rowErr)
	}

	if d.dash != nil && (res.Inserted > 0 || res.Deleted > 0) {
		d.dash.PublishEvent(dashboard.MessageTypeIngest, dashboard.IngestData{
			Scanned:  res.Scanned,
			Inserted: res.Inserted,
			Deleted:  res.Deleted,
		})
	}
	return nil
}

// runSweep executes one recording directory sweep.
func (d *Daemon) runSweep() {
	cfg := d.currentConfig()

	res, err := d.resolver.Sweep(d.ctx, cfg)
	if err != nil {
		if d.ctx.Err() == nil {
			d.opts.Logger.Printf("recording sweep failed: %v", err)
		}
		return
	}

	if d.dash != nil && (res.Matched > 0 || res.MarkedNotFound > 0) {
		d.dash.PublishEvent(dashboard.MessageTypeResolve, dashboard.ResolveData{
			FilesScanned:   res.FilesScanned,
			Matched:        res.Matched,
			MarkedNotFound: res.MarkedNotFound,
		})
	}
}

// ingestLoop runs the ingestion pipeline on its interval.
func (d *Daemon) ingestLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.currentConfig().IngestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if err := d.runIngest(); err != nil && d.ctx.Err() == nil {
				d.opts.Logger.Printf("ingest failed: %v", err)
			}
		}
	}
}

// sweepLoop runs the full recording sweep on its interval, catching
// files the watcher missed (daemon downtime, network mounts).
func (d *Daemon) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.currentConfig().ResolveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runSweep()
		}
	}
}

// watchRecordingEvents queues recording files reported by the watcher.
func (d *Daemon) watchRecordingEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case path, ok := <-d.watcher.Files():
			if !ok {
				return
			}
			d.queueChange(path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.opts.Logger.Printf("watcher error: %v", err)
		}
	}
}

// queueChange records a file event for debounced processing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue matches queued recordings once their event burst
// has settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processSettledFiles()
		}
	}
}

// processSettledFiles resolves files whose last event is older than the
// debounce interval.
func (d *Daemon) processSettledFiles() {
	d.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, last := range d.changeQueue {
		if now.Sub(last) >= d.opts.DebounceInterval {
			ready = append(ready, path)
			delete(d.changeQueue, path)
		}
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}

	cfg := d.currentConfig()
	matched := 0
	for _, path := range ready {
		id, err := d.resolver.ResolveFile(d.ctx, cfg, path)
		if err != nil {
			if d.ctx.Err() == nil {
				d.opts.Logger.Printf("match failed for %s: %v", path, err)
			}
			continue
		}
		if id != "" {
			matched++
		}
	}

	if d.dash != nil && matched > 0 {
		d.dash.PublishEvent(dashboard.MessageTypeResolve, dashboard.ResolveData{
			FilesScanned: len(ready),
			Matched:      matched,
		})
	}
}

// statusLoop forwards pending-count changes to the dashboard.
func (d *Daemon) statusLoop() {
	defer d.wg.Done()

	boundary := d.currentConfig().TrackingStart
	for snap := range d.statusEn.Watch(d.ctx, boundary, d.opts.StatusPollInterval) {
		d.dash.PublishStatus(snap)
	}
}
