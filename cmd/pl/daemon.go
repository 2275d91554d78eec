package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pocketlist/pocketlist/internal/daemon"
	"github.com/pocketlist/pocketlist/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the sync daemon (foreground)",
	Long: `Start the sync daemon in foreground mode.

The daemon will:
  1. Subscribe to the remote item list for this device's identity
  2. Mirror every snapshot into the local cache (items.db)
  3. Broadcast updates on the WebSocket dashboard
  4. Watch the outbox directory and attach dropped images

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		d, err := daemon.New(cfg)
		if err != nil {
			fatal("creating daemon: %v", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Backend: %s\n", cfg.Backend)
		fmt.Printf("   Cache: %s\n", cfg.CachePath())
		fmt.Printf("   Outbox: %s\n", cfg.OutboxDir())
		if cfg.DashboardPort > 0 {
			fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.DashboardPort)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fatal("daemon stopped with error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
