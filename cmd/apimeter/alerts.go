package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/apimeter/apimeter/adapters/sqlite"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage alert events",
	Long: `List and transition alert events emitted by the evaluator.

Events move active -> acknowledged -> resolved. Acknowledging marks an
alert as seen; resolving closes it.

Examples:
  apimeter alerts list
  apimeter alerts list --identity=key_abc123
  apimeter alerts ack alert_def456
  apimeter alerts resolve alert_def456`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active and acknowledged alerts",
	RunE:  runAlertsList,
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an active alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsAck,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsResolve,
}

var alertIdentityID string

func init() {
	rootCmd.AddCommand(alertsCmd)

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsAckCmd)
	alertsCmd.AddCommand(alertsResolveCmd)

	alertsListCmd.Flags().StringVar(&alertIdentityID, "identity", "", "filter by identity ID")
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewAlertStore(db)

	events, err := store.ListActive(context.Background(), alertIdentityID)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No open alerts.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tLEVEL\tIDENTITY\tSTATUS\tCREATED\tMESSAGE")
	fmt.Fprintln(w, "--\t----\t-----\t--------\t------\t-------\t-------")

	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Type, e.Level, e.IdentityID, e.Status,
			e.CreatedAt.Format("2006-01-02 15:04"), e.Message)
	}

	w.Flush()
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewAlertStore(db)

	if err := store.Acknowledge(context.Background(), args[0], time.Now()); err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	fmt.Printf("%s Acknowledged alert: %s\n", checkMark, args[0])
	return nil
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewAlertStore(db)

	if err := store.Resolve(context.Background(), args[0], time.Now()); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}

	fmt.Printf("%s Resolved alert: %s\n", checkMark, args[0])
	return nil
}
