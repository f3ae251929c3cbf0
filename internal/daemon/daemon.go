package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/emberchat/ember-core/internal/porter"
	"github.com/emberchat/ember-core/internal/syncer"
)

// Runner performs one reconciliation pass. Satisfied by *syncer.Reconciler;
// tests substitute fakes.
type Runner interface {
	Run(ctx context.Context) (*syncer.Stats, error)
}

// Importer merges a serialized backup document into the store. Satisfied by
// *porter.Engine.
type Importer interface {
	Import(ctx context.Context, data []byte) (*porter.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run the reconciler
	SyncInterval time.Duration

	// DebounceInterval is how long a dropped file must sit quiet before
	// the daemon imports it. Batches partially written files.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon runs periodic reconciliation and imports documents dropped into
// the inbox directory.
type Daemon struct {
	runner   Runner
	importer Importer
	inboxDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// inboxDir may be empty, in which case the daemon only runs the reconciler.
// Use Start() to begin.
func New(runner Runner, importer Importer, inboxDir string, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if inboxDir != "" && importer == nil {
		return nil, fmt.Errorf("importer cannot be nil when an inbox is configured")
	}
	if config == nil {
		config = DefaultConfig()
	}

	var watcher *fsnotify.Watcher
	if inboxDir != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		runner:      runner,
		importer:    importer,
		inboxDir:    inboxDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run an initial reconciliation pass
// 2. Import any documents already sitting in the inbox
// 3. Run the reconciler on SyncInterval
// 4. Import newly dropped documents with debouncing
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// Initial pass. Network failures are logged, not fatal: the daemon
	// exists to retry.
	if stats, err := d.runner.Run(ctx); err != nil {
		d.config.Logger.Printf("Initial sync failed: %v", err)
	} else {
		d.config.Logger.Printf("Initial sync: %d pushed, %d pulled", stats.Pushed, stats.Pulled)
	}

	if d.inboxDir != "" {
		if err := d.prepareInbox(); err != nil {
			return err
		}
		if err := d.drainInbox(); err != nil {
			d.config.Logger.Printf("Inbox drain failed: %v", err)
		}
		if err := d.watcher.Add(d.inboxDir); err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
		d.config.Logger.Printf("Watching inbox: %s", d.inboxDir)

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.syncLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// syncLoop runs the reconciler on a fixed interval.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			stats, err := d.runner.Run(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Sync error: %v", err)
				continue
			}
			if stats.Pushed+stats.Pulled+stats.Conflicts+stats.Failures > 0 {
				d.config.Logger.Printf("Sync: %d pushed, %d pulled, %d conflicts, %d failures",
					stats.Pushed, stats.Pulled, stats.Conflicts, stats.Failures)
			}
		}
	}
}

// prepareInbox creates the inbox and its done/failed subdirectories.
func (d *Daemon) prepareInbox() error {
	for _, dir := range []string{d.inboxDir, filepath.Join(d.inboxDir, "done"), filepath.Join(d.inboxDir, "failed")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create inbox directory %s: %w", dir, err)
		}
	}
	return nil
}

// drainInbox imports documents that were dropped while the daemon was down.
func (d *Daemon) drainInbox() error {
	entries, err := os.ReadDir(d.inboxDir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !importable(e.Name()) {
			continue
		}
		d.importFile(filepath.Join(d.inboxDir, e.Name()))
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if !importable(event.Name) {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue imports queued files once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		d.importFile(path)
	}
}

// importFile imports a single document and moves it to done/ or failed/.
func (d *Daemon) importFile(path string) {
	d.config.Logger.Printf("Importing: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Removed before we got to it. Nothing to do.
			return
		}
		d.config.Logger.Printf("Error reading %s: %v", path, err)
		d.stash(path, "failed")
		return
	}

	res, err := d.importer.Import(d.ctx, data)
	if err != nil {
		d.config.Logger.Printf("Import failed for %s: %v", path, err)
		d.stash(path, "failed")
		return
	}

	d.config.Logger.Printf("Imported %s: %d rows, %d skipped, %d row errors",
		filepath.Base(path), res.Total(), res.Skipped, len(res.Errors))
	for _, msg := range res.Errors {
		d.config.Logger.Printf("  row error: %s", msg)
	}
	d.stash(path, "done")
}

// stash moves a processed file into the named inbox subdirectory. A name
// collision gets a timestamp suffix rather than overwriting.
func (d *Daemon) stash(path, sub string) {
	dest := filepath.Join(d.inboxDir, sub, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = dest[:len(dest)-len(ext)] + "." + time.Now().UTC().Format("20060102T150405") + ext
	}
	if err := os.Rename(path, dest); err != nil {
		d.config.Logger.Printf("Error moving %s to %s: %v", path, sub, err)
	}
}

// importable reports whether a filename looks like a backup document.
func importable(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
