package main

import (
	"fmt"

	"github.com/apimeter/apimeter/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Printf("%s Configuration valid\n", checkMark)
	fmt.Printf("  Database: %s\n", cfg.Database.DSN)
	fmt.Printf("  Key prefix: %s\n", cfg.Auth.KeyPrefix)
	fmt.Printf("  Rate limit scopes: %d\n", len(cfg.RateLimit.Scopes))
	fmt.Printf("  Retention: %d days\n", cfg.Retention.Days)
	return nil
}
