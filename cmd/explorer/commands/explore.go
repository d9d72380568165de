/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: explore.go
Description: Explore command implementation. Runs the exploration engine against every
configured device in parallel, prints a final summary and writes a batch summary file
next to the per-device reports.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/core"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/reporting"
	"github.com/kleascm/kronos-explorer/pkg/strategies"
	"github.com/kleascm/kronos-explorer/pkg/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DeviceSummary is one device line of the batch summary
type DeviceSummary struct {
	Device       string         `json:"device"`
	Name         string         `json:"name,omitempty"`
	RunID        string         `json:"run_id,omitempty"`
	Model        string         `json:"model,omitempty"`
	Status       string         `json:"status"`
	Error        string         `json:"error,omitempty"`
	Viewports    int            `json:"viewports"`
	Pages        int            `json:"pages"`
	Observations int            `json:"observations"`
	Outcomes     map[string]int `json:"outcomes,omitempty"`
	Reports      []string       `json:"reports,omitempty"`
}

// BatchSummary is the result file of one explore invocation
type BatchSummary struct {
	Version    string          `json:"version"`
	Driver     string          `json:"driver"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Devices    []DeviceSummary `json:"devices"`
}

// RunExplore executes the exploration of every configured device
func RunExplore(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Kronos Explorer - Starting Exploration")
	fmt.Println("=========================================")
	fmt.Println()

	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := SetupLogging()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer log.Close()
	logger := log.GetLogger()

	p, err := createPlan()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if viper.GetBool("dry_run") {
		return performDryRun(p)
	}

	if err := validatePlan(p); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	registry, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load capability profiles: %w", err)
	}
	allow, err := strategies.NewAllowList(p.Allow)
	if err != nil {
		return fmt.Errorf("invalid allow-list: %w", err)
	}
	open, err := surfaceOpener(p.Driver, viper.GetBool("headless"), viper.GetDuration("op_timeout"))
	if err != nil {
		return err
	}

	store, catalog, err := openStore(logger)
	if err != nil {
		return err
	}
	defer catalog.Close()

	engine := core.NewEngine(p.Engine, registry, allow, store, logger)
	engine.AddReporter(core.NewLoggerReporter(log))
	recorder := core.NewRecordingReporter()
	engine.AddReporter(recorder)
	engine.SetDocumenter(reporting.NewGenerator(filepath.Join(outputDir(), "reports"), logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			fmt.Println("\n🛑 Received shutdown signal, stopping exploration...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("🔍 Exploring %d device(s) with %s, %d viewport(s), %d page(s)\n",
		len(p.Devices), p.Driver, len(p.Engine.Viewports), len(p.Engine.Pages))

	started := time.Now()
	runs := exploreAll(ctx, engine, p.Devices, open, viper.GetInt("parallel"), logger)

	summary := BatchSummary{
		Version:    Version,
		Driver:     p.Driver,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Devices:    summarize(p.Devices, runs),
	}
	printFinalStats(summary, recorder)

	path, err := utils.WriteResult(filepath.Join(outputDir(), "summaries"), "explore", Version, summary.FinishedAt, summary)
	if err != nil {
		logger.WithError(err).Warn("Failed to write batch summary")
	} else {
		fmt.Printf("\n📝 Summary written to %s\n", path)
	}

	failed := 0
	for _, d := range summary.Devices {
		if d.Status != string(interfaces.RunCompleted) && d.Status != string(interfaces.RunPartial) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d device(s) did not finish", failed, len(summary.Devices))
	}

	fmt.Println("\n✨ Exploration completed!")
	return nil
}

// exploreAll runs at most parallel devices at a time. Each device gets its
// own surfaces from open; the engine keeps no per-device state.
func exploreAll(ctx context.Context, engine *core.Engine, devices []core.Device, open core.SurfaceOpener, parallel int, logger *logrus.Logger) []*interfaces.DeviceRun {
	if parallel <= 0 {
		parallel = 1
	}
	runs := make([]*interfaces.DeviceRun, len(devices))
	sem := make(chan struct{}, parallel)
	var wg sync.WaitGroup

	for i, dev := range devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			run, err := engine.ExploreDevice(ctx, dev, open)
			if err != nil {
				logger.WithError(err).WithField("device", dev.Address).Error("Device exploration failed")
				return
			}
			runs[i] = run
		}()
	}

	wg.Wait()
	return runs
}

// summarize builds one DeviceSummary per device; runs[i] belongs to devices[i]
func summarize(devices []core.Device, runs []*interfaces.DeviceRun) []DeviceSummary {
	out := make([]DeviceSummary, 0, len(devices))
	for i, dev := range devices {
		ds := DeviceSummary{Device: dev.Address, Name: dev.Label(), Status: "not_started"}
		run := runs[i]
		if run == nil {
			out = append(out, ds)
			continue
		}
		ds.RunID = run.RunID
		ds.Model = run.Model
		ds.Status = string(run.Status)
		ds.Error = run.Error
		ds.Viewports = len(run.Viewports)
		ds.Observations = run.Observations()
		ds.Reports = run.Reports
		ds.Outcomes = make(map[string]int)
		for _, vp := range run.Viewports {
			ds.Pages += len(vp.Pages)
			for _, page := range vp.Pages {
				for _, obs := range page.Observations {
					ds.Outcomes[string(obs.Outcome)]++
				}
			}
		}
		out = append(out, ds)
	}
	return out
}

// performDryRun validates the plan and prints it without opening a browser
func performDryRun(p *plan) error {
	fmt.Println("🔍 Dry Run Mode - Validating Configuration")
	fmt.Println("==========================================")

	if err := validatePlan(p); err != nil {
		fmt.Printf("❌ Configuration validation failed: %v\n", err)
		return err
	}
	if _, err := loadRegistry(); err != nil {
		fmt.Printf("❌ Capability profiles failed to load: %v\n", err)
		return err
	}

	fmt.Println("✅ Configuration is valid")
	fmt.Printf("Driver: %s\n", p.Driver)
	fmt.Printf("Budget per device: %v\n", p.Engine.Budget)
	for _, d := range p.Devices {
		model := d.Model
		if model == "" {
			model = "(from dashboard)"
		}
		fmt.Printf("Device: %s %s\n", d.BaseURL(), model)
	}
	for _, vp := range p.Engine.Viewports {
		fmt.Printf("Viewport: %s (%dx%d, mobile=%v)\n", vp.Name, vp.Width, vp.Height, vp.Mobile)
	}
	for _, page := range p.Engine.Pages {
		fmt.Printf("Page: %s\n", page.Path)
	}
	return nil
}

// printFinalStats prints the per-device results and the outcome totals
func printFinalStats(summary BatchSummary, recorder *core.RecordingReporter) {
	fmt.Println("\n📊 Final Statistics")
	fmt.Println("==================")
	fmt.Printf("Total Runtime: %v\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))

	for _, d := range summary.Devices {
		icon := "✅"
		switch d.Status {
		case string(interfaces.RunPartial):
			icon = "⚠️"
		case string(interfaces.RunCompleted):
		default:
			icon = "❌"
		}
		fmt.Printf("%s %s [%s] %s: %d page(s), %d observation(s)\n", icon, d.Name, d.Model, d.Status, d.Pages, d.Observations)
		if d.Error != "" {
			fmt.Printf("   %s\n", d.Error)
		}
	}

	counts := make(map[string]int)
	for _, obs := range recorder.Observations {
		counts[string(obs.Outcome)]++
	}
	if len(counts) == 0 {
		return
	}
	outcomes := make([]string, 0, len(counts))
	for o := range counts {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	fmt.Println("\nOutcomes:")
	for _, o := range outcomes {
		fmt.Printf("  %-20s %d\n", o, counts[o])
	}
	fmt.Printf("Authentication probes: %d\n", len(recorder.AuthProbes))
}
