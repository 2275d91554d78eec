// Package daemon wires the sync engine to its local surfaces.
//
// The daemon:
// 1. Resolves the device identity and opens the remote store
// 2. Runs the Syncer against the user's item collection
// 3. Mirrors every snapshot into the local SQLite cache
// 4. Broadcasts snapshots, upload progress, and notices to the dashboard
// 5. Watches the outbox directory and attaches dropped images
// 6. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pocketlist/pocketlist/internal/cache"
	"github.com/pocketlist/pocketlist/internal/config"
	"github.com/pocketlist/pocketlist/internal/dashboard"
	"github.com/pocketlist/pocketlist/internal/identity"
	"github.com/pocketlist/pocketlist/internal/item"
	"github.com/pocketlist/pocketlist/internal/outbox"
	"github.com/pocketlist/pocketlist/internal/remote"
	"github.com/pocketlist/pocketlist/internal/remote/blob"
	"github.com/pocketlist/pocketlist/internal/remote/memory"
	"github.com/pocketlist/pocketlist/internal/remote/rtdb"
	itemsync "github.com/pocketlist/pocketlist/internal/sync"
)

// Daemon orchestrates the syncer, cache mirror, dashboard, and outbox.
type Daemon struct {
	cfg    *config.Config
	logger *log.Logger

	uid     string
	store   remote.Store
	blobs   remote.Blobs
	syncer  *itemsync.Syncer
	mirror  *cache.Cache
	dash    *dashboard.Server
	watcher *outbox.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a daemon from configuration. Nothing runs until Start.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := newLogger(cfg)

	uid, err := identity.NewFileProvider(cfg.DataDir).UID()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	var store remote.Store
	switch cfg.Backend {
	case config.BackendRTDB:
		store = rtdb.New(cfg.DatabaseURL, cfg.DatabaseAuth, logger)
	case config.BackendMemory:
		store = memory.New()
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	// Uploads are optional; without a blob endpoint the outbox still
	// runs but every attach fails with a notice.
	var blobs remote.Blobs
	if cfg.Minio.Endpoint != "" {
		blobs, err = blob.New(blob.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Secure:    cfg.Minio.Secure,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open blob store: %w", err)
		}
	}

	mirror, err := cache.Open(cfg.CachePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if err := mirror.InitSchema(); err != nil {
		_ = mirror.Close()
		return nil, fmt.Errorf("failed to init cache schema: %w", err)
	}

	var dash *dashboard.Server
	if cfg.DashboardPort > 0 {
		dash = dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Logger: logger,
		})
	}

	watcher, err := outbox.NewWatcher()
	if err != nil {
		_ = mirror.Close()
		return nil, fmt.Errorf("failed to create outbox watcher: %w", err)
	}

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		uid:     uid,
		store:   store,
		blobs:   blobs,
		syncer:  itemsync.New(uid, store, blobs, logger),
		mirror:  mirror,
		dash:    dash,
		watcher: watcher,
	}, nil
}

// Syncer exposes the item syncer, the daemon's mutation surface.
func (d *Daemon) Syncer() *itemsync.Syncer {
	return d.syncer
}

// newLogger builds the daemon logger. With a log file configured, output
// goes through lumberjack for rotation; otherwise it goes to stderr.
func newLogger(cfg *config.Config) *log.Logger {
	if cfg.LogFile == "" {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}, "[daemon] ", log.LstdFlags)
}

// Start runs the daemon until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Printf("Starting daemon for user %s", d.uid)
	d.ctx, d.cancel = context.WithCancel(ctx)

	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		d.logger.Printf("Dashboard listening on %s", d.dash.GetAddr())
	}

	if err := d.syncer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start syncer: %w", err)
	}

	outboxDir := d.cfg.OutboxDir()
	if err := os.MkdirAll(outboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create outbox directory: %w", err)
	}
	if err := d.watcher.Start(outboxDir); err != nil {
		return fmt.Errorf("failed to watch outbox: %w", err)
	}
	d.logger.Printf("Watching outbox: %s", outboxDir)

	d.wg.Add(3)
	go d.forwardUpdates()
	go d.forwardUploads()
	go d.consumeOutbox()

	// Wait for shutdown
	<-ctx.Done()
	d.logger.Println("Shutdown signal received")
	return d.Stop()
}

// Stop gracefully shuts everything down in dependency order.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")

	if d.cancel != nil {
		d.cancel()
	}

	if err := d.watcher.Stop(); err != nil {
		d.logger.Printf("Error stopping outbox watcher: %v", err)
	}
	d.syncer.Stop()
	d.wg.Wait()

	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			d.logger.Printf("Error stopping dashboard: %v", err)
		}
	}
	if err := d.mirror.Close(); err != nil {
		d.logger.Printf("Error closing cache: %v", err)
	}

	d.logger.Println("Daemon stopped")
	return nil
}

// forwardUpdates mirrors every list snapshot into the cache and onto the
// dashboard.
func (d *Daemon) forwardUpdates() {
	defer d.wg.Done()

	for items := range d.syncer.Updates() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.mirror.ReplaceAll(ctx, items); err != nil {
			d.logger.Printf("Error mirroring snapshot: %v", err)
		}
		cancel()

		if d.dash != nil {
			d.dash.Broadcast(dashboard.ItemsMessage(items))
		}
	}
}

// forwardUploads relays upload pipeline state onto the dashboard.
func (d *Daemon) forwardUploads() {
	defer d.wg.Done()

	var lastNotice string
	for st := range d.syncer.UploadStates() {
		if d.dash == nil {
			continue
		}
		d.dash.Broadcast(dashboard.UploadMessage(st.Uploading, st.Progress))
		if st.Notice != lastNotice {
			d.dash.Broadcast(dashboard.NoticeMessage(st.Notice))
			lastNotice = st.Notice
		}
	}
}

// consumeOutbox attaches images dropped into the outbox directory.
//
// The file is decoded here so it can be removed as soon as the pipeline
// has its own copy of the pixels. Files for unknown items stay in place
// for the user to inspect.
func (d *Daemon) consumeOutbox() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.handleDrop(ev)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Printf("Outbox watcher error: %v", err)
		}
	}
}

func (d *Daemon) handleDrop(ev outbox.ImageEvent) {
	it, ok := d.findItem(ev.ItemID)
	if !ok {
		d.logger.Printf("Warning: outbox drop %s names unknown item %s", ev.Path, ev.ItemID)
		return
	}

	f, err := os.Open(ev.Path)
	if err != nil {
		d.logger.Printf("Error reading outbox drop %s: %v", ev.Path, err)
		return
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		d.logger.Printf("Warning: undecodable outbox drop %s: %v", ev.Path, err)
		return
	}

	d.logger.Printf("Attaching %s to item %s", ev.Path, it.ID)
	d.syncer.Attach(img, it)

	if err := os.Remove(ev.Path); err != nil {
		d.logger.Printf("Error removing outbox drop %s: %v", ev.Path, err)
	}
}

func (d *Daemon) findItem(id string) (item.Item, bool) {
	for _, it := range d.syncer.Items() {
		if it.ID == id {
			return it, true
		}
	}
	return item.Item{}, false
}
