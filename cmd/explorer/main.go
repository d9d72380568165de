/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Command-line interface for Kronos Explorer. Selects devices and viewport
profiles, opens browser surfaces and runs the exploration engine, and gives access to the
authentication probe, the capability profiles and the run history.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/kronos-explorer/cmd/explorer/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Configuration
	configFile string
	logLevel   string
	jsonLogs   bool

	// Logging configuration
	logDir      string
	logFormat   string
	logMaxFiles int
	logCompress bool

	// Browser configuration
	driver    string
	headless  bool
	opTimeout time.Duration

	// Exploration configuration
	devices      []string
	model        string
	viewports    []string
	pages        []string
	outputDir    string
	catalogPath  string
	budget       time.Duration
	parallel     int
	profilesFile string
	skipProbe    bool
	dryRun       bool

	// History configuration
	historyLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kronos-explorer",
		Short: "Kronos Explorer - autonomous exploration of appliance web consoles",
		Long: `Kronos Explorer drives the web console of time and frequency reference appliances.
For every configuration page it watches the rendered state settle, extracts the client-side
validation rules, synthesizes minimal invalid inputs for safe fields, records how the page
reacts and restores it, then documents everything it saw per device and viewport.`,
		Version: commands.Version,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Use JSON log format")

	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "./logs", "Log output directory (empty disables log files)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "custom", "Log format (text, json, custom)")
	rootCmd.PersistentFlags().IntVar(&logMaxFiles, "log-max-files", 10, "Maximum number of log files to keep")
	rootCmd.PersistentFlags().BoolVar(&logCompress, "log-compress", false, "Compress older log files")

	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "./explorer_output", "Directory for snapshots, reports and summaries")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Catalog database path (default <output>/catalog.db)")
	rootCmd.PersistentFlags().StringVar(&profilesFile, "profiles", "", "YAML file of capability profiles merged over the built-ins")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("json_logs", rootCmd.PersistentFlags().Lookup("json-logs"))
	viper.BindPFlag("log_dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log_max_files", rootCmd.PersistentFlags().Lookup("log-max-files"))
	viper.BindPFlag("log_compress", rootCmd.PersistentFlags().Lookup("log-compress"))
	viper.BindPFlag("output_dir", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))
	viper.BindPFlag("profiles_file", rootCmd.PersistentFlags().Lookup("profiles"))

	rootCmd.PersistentFlags().StringVar(&driver, "driver", "chromedp", "Browser driver (chromedp, playwright)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser headless")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "op-timeout", 30*time.Second, "Timeout of a single browser operation")
	rootCmd.PersistentFlags().StringSliceVar(&devices, "device", []string{}, "Device address (repeatable; adds to configured devices)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model of the --device entries (empty reads it from the dashboard)")
	rootCmd.PersistentFlags().StringSliceVar(&viewports, "viewport", []string{}, "Viewport names to run (default all configured)")

	viper.BindPFlag("driver", rootCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("headless", rootCmd.PersistentFlags().Lookup("headless"))
	viper.BindPFlag("op_timeout", rootCmd.PersistentFlags().Lookup("op-timeout"))
	viper.BindPFlag("device_addresses", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("device_model", rootCmd.PersistentFlags().Lookup("model"))
	viper.BindPFlag("viewport_names", rootCmd.PersistentFlags().Lookup("viewport"))

	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "Explore the configuration pages of one or more devices",
		Long: `Explore every configured device. Devices run in parallel, each with its own browser
surfaces; viewports of one device run in sequence. Each device produces snapshots, a catalog
entry and an HTML, Markdown and JSON report.`,
		RunE: commands.RunExplore,
	}
	exploreCmd.Flags().StringSliceVar(&pages, "page", []string{}, "Page paths to explore (default all configured)")
	exploreCmd.Flags().DurationVar(&budget, "budget", 45*time.Minute, "Wall-clock budget per device (0 = unlimited)")
	exploreCmd.Flags().IntVar(&parallel, "parallel", 2, "Devices explored at the same time")
	exploreCmd.Flags().BoolVar(&skipProbe, "skip-auth-probe", false, "Skip the wrong-credential probe")
	exploreCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit without exploring")
	viper.BindPFlag("page_paths", exploreCmd.Flags().Lookup("page"))
	viper.BindPFlag("budget", exploreCmd.Flags().Lookup("budget"))
	viper.BindPFlag("parallel", exploreCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("skip_auth_probe", exploreCmd.Flags().Lookup("skip-auth-probe"))
	viper.BindPFlag("dry_run", exploreCmd.Flags().Lookup("dry-run"))
	rootCmd.AddCommand(exploreCmd)

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Run the authentication probe against devices",
		Long: `Submit deliberately wrong credentials to the login surface of each device and record
whether an error is shown, whether a banner appears and whether the surface stays on the login
page. Nothing else is explored.`,
		RunE: commands.RunProbe,
	}
	rootCmd.AddCommand(probeCmd)

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "List device capability profiles",
		Long: `List the built-in capability profiles merged with the profiles file, showing the
timeout multiplier and supported features of every model.`,
		RunE: commands.RunProfiles,
	}
	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the merged capability profiles to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  commands.RunProfilesExport,
	}
	profilesCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(profilesCmd)

	historyCmd := &cobra.Command{
		Use:   "history [device]",
		Short: "Show previous runs from the catalog",
		Long: `List recent runs recorded in the catalog, newest first, with snapshot and
observation counts and the outcome breakdown of every run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: commands.RunHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")
	viper.BindPFlag("history_limit", historyCmd.Flags().Lookup("limit"))
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
