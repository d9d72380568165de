/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the Kronos Explorer commands. Provides configuration
loading, logging setup, and the catalog, store and registry construction used by every
command.
*/

package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/capability"
	"github.com/kleascm/kronos-explorer/pkg/logging"
	"github.com/kleascm/kronos-explorer/pkg/snapshot"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Version of the command-line tool
const Version = "1.0.0"

// LoadConfig loads configuration from files and environment
func LoadConfig() error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// KRONOS_CREDENTIALS_CONFIG_PASSWORD maps to credentials.config_password
	viper.SetEnvPrefix("KRONOS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return nil
}

// loggerConfig builds the logger configuration from the log flags
func loggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultLoggerConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(viper.GetString("log_level")))
	if f := viper.GetString("log_format"); f != "" {
		cfg.Format = logging.LogFormat(f)
	}
	if viper.GetBool("json_logs") {
		cfg.Format = logging.LogFormatJSON
	}
	cfg.OutputDir = viper.GetString("log_dir")
	if n := viper.GetInt("log_max_files"); n > 0 {
		cfg.MaxFiles = n
	}
	cfg.Compress = viper.GetBool("log_compress")
	return cfg
}

// SetupLogging creates the run logger from the log flags
func SetupLogging() (*logging.Logger, error) {
	cfg := loggerConfig()
	if cfg.Level == "warning" {
		cfg.Level = logging.LogLevelWarning
	}
	if _, err := logrus.ParseLevel(string(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return logging.NewLogger(cfg)
}

// outputDir is the root of every artifact the tool writes
func outputDir() string {
	if dir := viper.GetString("output_dir"); dir != "" {
		return dir
	}
	return "./explorer_output"
}

// catalogPath defaults to catalog.db inside the output directory
func catalogPath() string {
	if p := viper.GetString("catalog"); p != "" {
		return p
	}
	return filepath.Join(outputDir(), "catalog.db")
}

// openStore opens the catalog and the snapshot store on top of it
func openStore(logger *logrus.Logger) (*snapshot.Store, *snapshot.Catalog, error) {
	catalog, err := snapshot.OpenCatalog(catalogPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	store := snapshot.NewStore(filepath.Join(outputDir(), "snapshots"), catalog, logger)
	return store, catalog, nil
}

// loadRegistry returns the built-in profiles merged with the profiles file
func loadRegistry() (*capability.Registry, error) {
	registry := capability.DefaultRegistry()
	path := viper.GetString("profiles_file")
	if path == "" {
		return registry, nil
	}
	profiles, err := capability.LoadFile(path)
	if err != nil {
		return nil, err
	}
	registry.Merge(profiles)
	return registry, nil
}
