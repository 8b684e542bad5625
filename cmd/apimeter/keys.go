package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/apimeter/apimeter/adapters/sqlite"
	"github.com/apimeter/apimeter/config"
	"github.com/apimeter/apimeter/domain/identity"
	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage APIMeter API keys.

Each owner can have multiple API keys. Keys authenticate requests and
attribute their usage records and rate limit windows.

Examples:
  apimeter keys list --owner=acct_123
  apimeter keys create --owner=acct_123 --name=production
  apimeter keys revoke key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys for an owner",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyOwnerID string
	keyName    string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysListCmd.Flags().StringVar(&keyOwnerID, "owner", "", "owner ID (required)")
	keysListCmd.MarkFlagRequired("owner")
	keysCreateCmd.Flags().StringVar(&keyOwnerID, "owner", "", "owner ID (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("owner")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewCredentialStore(db)

	keys, err := store.ListByOwner(context.Background(), keyOwnerID)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Printf("No keys found for owner %s.\n", keyOwnerID)
		fmt.Println()
		fmt.Println("Create a key with: apimeter keys create --owner=<owner-id>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSTATUS\tCREATED\tLAST USED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------\t---------")

	for _, k := range keys {
		status := "active"
		if !k.Active {
			status = "inactive"
		}
		lastUsed := "never"
		if k.LastUsed != nil {
			lastUsed = k.LastUsed.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\t%s\n",
			k.ID, k.Prefix, k.Name, status, k.CreatedAt.Format("2006-01-02"), lastUsed)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	store := sqlite.NewCredentialStore(db)

	rawKey, id := identity.Generate(cfg.Auth.KeyPrefix, keyOwnerID, keyName, time.Now())
	if err := store.Create(context.Background(), id); err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created API key for owner %s\n", checkMark, keyOwnerID)
	fmt.Println()
	fmt.Println("API Key (save this, shown once):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", id.ID)

	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewCredentialStore(db)

	if !confirm(fmt.Sprintf("Revoke key %s?", keyID)) {
		fmt.Println("Aborted.")
		return nil
	}

	if err := store.Deactivate(context.Background(), keyID, time.Now()); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("%s Revoked key: %s\n", checkMark, keyID)
	return nil
}
