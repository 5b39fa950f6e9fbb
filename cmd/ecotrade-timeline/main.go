// Command ecotrade-timeline prints the reconciled provenance timeline of one
// listing as JSON, using the server's config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/unnati-rahatwal/Techvanza/internal/app"
	"github.com/unnati-rahatwal/Techvanza/internal/config"
	"github.com/unnati-rahatwal/Techvanza/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to server config")
	itemID := flag.String("item", "", "listing id")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline")
	flag.Parse()

	if *itemID == "" {
		fmt.Fprintln(os.Stderr, "-item is required")
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	// Keep stdout for the timeline itself.
	logger := logging.NewJSONLoggerTo(os.Stderr, slog.LevelWarn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	core, err := app.OpenCore(ctx, cfg, nil, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	resp, err := core.Tracking.Timeline(ctx, *itemID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "timeline: %v\n", err)
		core.Close()
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "encode timeline: %v\n", err)
		core.Close()
		os.Exit(1)
	}
}
