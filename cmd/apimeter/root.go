package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/apimeter/apimeter/adapters/sqlite"
	"github.com/apimeter/apimeter/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

const checkMark = "\033[32m✓\033[0m"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apimeter",
	Short: "API usage accounting with authentication, rate limiting, and alerting",
	Long: `APIMeter meters API traffic: it authenticates API keys, enforces
fixed-window rate limits across multiple scopes, records every request in a
durable usage ledger, and evaluates alert thresholds over that ledger.

Quick start:
  apimeter serve    # Start the accounting server

Management:
  apimeter keys     # Manage API keys
  apimeter alerts   # Manage alert events
  apimeter cleanup  # Delete aged usage records and expired windows`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "apimeter.yaml", "config file path")
}

func openDatabase() (*sqlite.DB, error) {
	// Load config to get database path
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

func confirm(message string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("? %s [y/N]: ", message)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}
