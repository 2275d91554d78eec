// Command pl manages a synchronized pocket list.
//
// Items live in a remote realtime database; a local daemon keeps a
// SQLite mirror fresh, serves a WebSocket dashboard, and uploads images
// dropped into the outbox directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketlist/pocketlist/internal/config"
)

var dataDirFlag string

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Synchronized pocket list",
	Long: `pl keeps a simple list of items in sync across devices.

Items are stored in a realtime database and mirrored into a local
SQLite cache by the daemon:
  1. 'pl daemon' subscribes to the remote list and mirrors snapshots
  2. 'pl add/rm/retitle' write straight to the remote store
  3. 'pl ls' reads the local mirror, newest first
  4. Images dropped into the outbox as {itemID}.jpg are attached
     automatically`,
	SilenceUsage: true,
}

// loadConfig resolves configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	dir := dataDirFlag
	if dir == "" {
		dir = os.Getenv("POCKETLIST_DATA_DIR")
	}
	return config.Load(dir)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"data directory (default ~/.pocketlist)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
