// Package main provides stockctl, a command line client for a stockledger
// server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rl1809/stockledger/internal/client"
	"github.com/rl1809/stockledger/internal/core/domain"
	"github.com/rl1809/stockledger/internal/mutation"
)

var (
	serverURL string
	actor     string
	asJSON    bool
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "stockctl",
	Short:        "Inspect and adjust stock on a stockledger server",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("STOCKLEDGER_SERVER", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", os.Getenv("USER"), "name recorded on writes")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(listCmd, getCmd, createCmd, editCmd, deleteCmd, historyCmd, summaryCmd)
	rootCmd.AddCommand(addCmd, deductCmd, moveCmd)
	rootCmd.AddCommand(watchCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithActor(actor))
}

// notifier prints coordinator notifications to stderr.
func notifier(cmd *cobra.Command) mutation.Notifier {
	return mutation.NotifierFunc(func(n mutation.Notification) {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", n.Level, n.Message)
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printItems(w io.Writer, items []domain.Item) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSKU\tNAME\tCATEGORY\tSTOCK\tVERSION\t")
	for _, it := range items {
		stock := fmt.Sprint(it.CurrentStock)
		if it.IsLowStock() {
			stock += " (low)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t\n", it.ID, it.SKU, it.Name, it.Category, stock, it.Version)
	}
	tw.Flush()
}

func printMovements(w io.Writer, movements []domain.Movement) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tITEM\tCHANGE\tBY\t")
	for _, m := range movements {
		by := "-"
		if m.PerformedBy != nil {
			by = *m.PerformedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\t\n", m.PerformedAt.Local().Format("2006-01-02 15:04:05"), m.ItemID, m.QuantityChange, by)
	}
	tw.Flush()
}
