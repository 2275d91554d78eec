package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pocketlist/pocketlist/internal/cache"
	"github.com/pocketlist/pocketlist/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Backend:       config.BackendMemory,
		DataDir:       t.TempDir(),
		DashboardPort: 0, // disabled
	}
}

// startDaemon runs the daemon in the background and returns a stop
// function that blocks until shutdown completes.
func startDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("daemon exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down in time")
		}
	})

	// Give the outbox watcher and subscription time to come up.
	time.Sleep(100 * time.Millisecond)
	return d
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestDaemonStartStop(t *testing.T) {
	startDaemon(t, testConfig(t))
}

func TestDaemonMirrorsSnapshots(t *testing.T) {
	cfg := testConfig(t)
	d := startDaemon(t, cfg)

	added, err := d.Syncer().Add("buy milk")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// The write round-trips through the store subscription before the
	// mirror sees it; poll the cache from a second connection.
	mirror, err := cache.Open(cfg.CachePath())
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	defer mirror.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		items, err := mirror.List(context.Background())
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(items) == 1 {
			if items[0].ID != added.ID || items[0].Title != "buy milk" {
				t.Fatalf("mirrored item = %+v, want %s", items[0], added.ID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never reached the cache, items = %v", items)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestOutboxDropForUnknownItemLeavesFile(t *testing.T) {
	cfg := testConfig(t)
	startDaemon(t, cfg)

	path := filepath.Join(cfg.OutboxDir(), "NOSUCHITEM.jpg")
	if err := os.WriteFile(path, []byte("not really a jpeg"), 0644); err != nil {
		t.Fatalf("failed to write drop: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("drop for unknown item was removed: %v", err)
	}
}
