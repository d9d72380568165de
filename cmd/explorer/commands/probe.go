/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: probe.go
Description: Probe command implementation. Runs only the wrong-credential authentication
probe against every device and viewport and records the results in the catalog.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/kronos-explorer/pkg/auth"
	"github.com/kleascm/kronos-explorer/pkg/capability"
	"github.com/kleascm/kronos-explorer/pkg/core"
	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/kleascm/kronos-explorer/pkg/logging"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunProbe executes the authentication probe for every configured device
func RunProbe(cmd *cobra.Command, args []string) error {
	fmt.Println("🔐 Kronos Explorer - Authentication Probe")
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

	p, err := createPlan()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validatePlan(p); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	registry, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load capability profiles: %w", err)
	}
	open, err := surfaceOpener(p.Driver, viper.GetBool("headless"), viper.GetDuration("op_timeout"))
	if err != nil {
		return err
	}
	store, catalog, err := openStore(log.GetLogger())
	if err != nil {
		return err
	}
	defer catalog.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	failures := 0
	for _, dev := range p.Devices {
		if err := probeDevice(ctx, dev, p, registry, store, open, log); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", dev.Label(), err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failures > 0 {
		return fmt.Errorf("probe failed on %d device(s)", failures)
	}
	return nil
}

// probeDevice probes one device on every viewport and records a catalog run for it
func probeDevice(ctx context.Context, dev core.Device, p *plan, registry *capability.Registry, store *snapshot.Store, open core.SurfaceOpener, log *logging.Logger) error {
	profile := registry.Lookup(dev.Model)
	config := auth.DefaultProbeConfig().Scale(profile.Multiplier())

	run := &interfaces.DeviceRun{
		RunID:      uuid.New().String(),
		Device:     dev.Address,
		Name:       dev.Label(),
		Model:      dev.Model,
		Multiplier: profile.Multiplier(),
		Status:     interfaces.RunCompleted,
		StartedAt:  time.Now(),
	}
	if err := store.Catalog().BeginRun(ctx, run); err != nil {
		log.GetLogger().WithError(err).Warn("Failed to record run start")
	}
	defer func() {
		run.FinishedAt = time.Now()
		if err := store.Catalog().FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.GetLogger().WithError(err).Warn("Failed to record run finish")
		}
		log.LogRunSummary(run)
	}()

	for _, vp := range p.Engine.Viewports {
		vr := interfaces.ViewportRun{Viewport: vp.Name, Status: interfaces.RunCompleted}
		results, err := probeViewport(ctx, dev, vp, config, p.Engine.Credentials, run.RunID, store, open)
		vr.AuthProbes = results
		for i := range results {
			log.LogAuthProbe(dev.Label(), vp.Name, &results[i])
			printProbe(vp.Name, results[i])
		}
		if err != nil {
			vr.Status = interfaces.RunAborted
			vr.Error = err.Error()
			run.Status = interfaces.RunAborted
			run.Error = fmt.Sprintf("viewport %s: %v", vp.Name, err)
			run.Viewports = append(run.Viewports, vr)
			return err
		}
		run.Viewports = append(run.Viewports, vr)
	}
	return nil
}

func probeViewport(ctx context.Context, dev core.Device, vp core.Viewport, config auth.ProbeConfig, creds auth.Credentials, runID string, store *snapshot.Store, open core.SurfaceOpener) ([]interfaces.AuthProbeResult, error) {
	session, err := store.Session(runID, dev.Address, vp.Name)
	if err != nil {
		return nil, err
	}
	surface, err := open(ctx, vp)
	if err != nil {
		return nil, fmt.Errorf("failed to open surface: %w", err)
	}
	defer surface.Close()

	prober := auth.NewProber(config, creds, session, nil)
	return prober.Probe(ctx, surface, dev.BaseURL())
}

func printProbe(viewport string, res interfaces.AuthProbeResult) {
	if res.ProbeError != "" {
		fmt.Printf("⚠️  [%s] %s: probe failed: %s\n", viewport, res.CredentialKind, res.ProbeError)
		return
	}
	fmt.Printf("✅ [%s] %s: error shown=%v banner=%v still on login=%v %q\n",
		viewport, res.CredentialKind, res.ErrorVisible, res.BannerVisible, res.StillOnAuthSurface, res.ErrorMessage)
}
