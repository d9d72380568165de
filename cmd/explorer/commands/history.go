/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: history.go
Description: History command. Reads previous runs and their outcome breakdown from the
catalog database.
*/

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunHistory prints recent runs, optionally for the device in args[0]
func RunHistory(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := os.Stat(catalogPath()); err != nil {
		return fmt.Errorf("no catalog at %s: %w", catalogPath(), err)
	}
	catalog, err := snapshot.OpenCatalog(catalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer catalog.Close()

	device := ""
	if len(args) > 0 {
		device = args[0]
	}
	return printHistory(cmd.Context(), os.Stdout, catalog, device, viper.GetInt("history_limit"))
}

// printHistory writes one block per run, newest first
func printHistory(ctx context.Context, w io.Writer, catalog *snapshot.Catalog, device string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runs, err := catalog.ListRuns(ctx, device, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	for _, r := range runs {
		duration := "running"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		model := r.Model
		if model == "" {
			model = "unknown"
		}
		fmt.Fprintf(w, "%s  %s  %s  %s  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Device, model, r.Status, duration)
		fmt.Fprintf(w, "    run %s: %d snapshot(s), %d observation(s)\n", r.RunID, r.Snapshots, r.Observations)
		if r.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", r.Error)
		}

		counts, err := catalog.OutcomeCounts(ctx, r.RunID)
		if err != nil {
			return err
		}
		for _, c := range counts {
			fmt.Fprintf(w, "    %-20s %d\n", c.Outcome, c.Count)
		}
	}
	return nil
}
