package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketlist/pocketlist/internal/cache"
	"github.com/pocketlist/pocketlist/internal/config"
	"github.com/pocketlist/pocketlist/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Display the current sync configuration and mirror state.

Shows:
  - Device identity and backend
  - Mirror location, size, and item count
  - Last mirror write time`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("\n%s Pocketlist Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Identity: %s\n", deviceUID(cfg))
		fmt.Printf("Backend: %s\n", cfg.Backend)
		if cfg.Backend == config.BackendRTDB {
			fmt.Printf("Database: %s\n", cfg.DatabaseURL)
		}
		if cfg.Minio.Endpoint != "" {
			fmt.Printf("Images: %s/%s\n", cfg.Minio.Endpoint, cfg.Minio.Bucket)
		} else {
			fmt.Printf("Images: %s\n", ui.RenderDim("not configured"))
		}

		cachePath := cfg.CachePath()
		info, err := os.Stat(cachePath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Mirror not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'pl daemon' to create it\n\n")
			return
		}
		if err != nil {
			fatal("checking mirror: %v", err)
		}

		c, err := cache.Open(cachePath)
		if err != nil {
			fatal("opening mirror: %v", err)
		}
		defer c.Close()
		if err := c.InitSchema(); err != nil {
			fatal("initializing mirror: %v", err)
		}

		count, err := c.Count(cmd.Context())
		if err != nil {
			fatal("counting items: %v", err)
		}

		size := info.Size()
		sizeStr := fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}

		fmt.Printf("\nMirror: %s\n", cachePath)
		fmt.Printf("Size: %s\n", sizeStr)
		fmt.Printf("Items: %d\n", count)
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
