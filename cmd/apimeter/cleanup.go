package main

import (
	"context"
	"fmt"

	"github.com/apimeter/apimeter/adapters/clock"
	"github.com/apimeter/apimeter/adapters/sqlite"
	"github.com/apimeter/apimeter/app"
	"github.com/apimeter/apimeter/bootstrap"
	"github.com/apimeter/apimeter/config"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete aged usage records and expired rate windows",
	Long: `Run one retention sweep: delete usage records older than the
retention period and rate windows that have already ended.

The sweep is idempotent and safe to run while the server is serving
traffic.

Examples:
  apimeter cleanup
  apimeter cleanup --days=30`,
	RunE: runCleanup,
}

var cleanupDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention period in days (default: from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.Retention.Days
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger := bootstrap.SetupLogger(cfg.Logging)
	svc := app.NewRetentionService(
		sqlite.NewLedger(db),
		sqlite.NewRateLimitStore(db),
		clock.Real{},
		logger,
	)

	res, err := svc.Sweep(context.Background(), days)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("%s Deleted %d usage records and %d rate windows (older than %d days)\n",
		checkMark, res.UsageRecords, res.RateWindows, days)
	return nil
}
