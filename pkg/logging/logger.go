/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Logging system for Kronos Explorer. Wraps logrus with level and format
selection, timestamped log files tee'd with the console, old-file cleanup, and helpers
that log each exploration event with a fixed field set.
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCustom LogFormat = "custom"
)

const filePrefix = "kronos-explorer_"

// Event messages; ExplorerFormatter keys its tags off these
const (
	msgPhase       = "Phase changed"
	msgSnapshot    = "Snapshot captured"
	msgObservation = "Test case observed"
	msgAuthProbe   = "Authentication probe"
	msgPage        = "Page explored"
	msgRunSummary  = "Device run finished"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	Level     LogLevel  `mapstructure:"level" json:"level"`
	Format    LogFormat `mapstructure:"format" json:"format"`
	OutputDir string    `mapstructure:"output_dir" json:"output_dir"`
	MaxFiles  int       `mapstructure:"max_files" json:"max_files"`
	Compress  bool      `mapstructure:"compress" json:"compress"`
	Timestamp bool      `mapstructure:"timestamp" json:"timestamp"`
	Caller    bool      `mapstructure:"caller" json:"caller"`
	Colors    bool      `mapstructure:"colors" json:"colors"`
	// Console is where entries go besides the log file; nil means stdout
	Console io.Writer `mapstructure:"-" json:"-"`
}

// DefaultLoggerConfig returns console-and-file logging at info level
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     LogLevelInfo,
		Format:    LogFormatCustom,
		OutputDir: "./logs",
		MaxFiles:  10,
		Timestamp: true,
		Colors:    true,
	}
}

// Validate checks the LoggerConfig for invalid values
func (c *LoggerConfig) Validate() error {
	if c.OutputDir != "" && c.MaxFiles <= 0 {
		return fmt.Errorf("max_files must be positive")
	}
	switch c.Format {
	case LogFormatJSON, LogFormatText, LogFormatCustom:
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	switch c.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	return nil
}

// Logger owns the logrus logger and its log file
type Logger struct {
	config     *LoggerConfig
	logger     *logrus.Logger
	fileHandle *os.File
	filePath   string
	startTime  time.Time
}

// NewLogger creates a new logger instance
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger config: %w", err)
	}

	l := &Logger{config: config, logger: logrus.New(), startTime: time.Now()}
	if err := l.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return l, nil
}

func (l *Logger) setup() error {
	level, err := logrus.ParseLevel(string(l.config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.logger.SetLevel(level)
	l.logger.SetReportCaller(l.config.Caller)
	l.setFormatter()

	console := l.config.Console
	if console == nil {
		console = os.Stdout
	}
	l.logger.SetOutput(console)
	return l.setupFileOutput(console)
}

func (l *Logger) setFormatter() {
	prettyCaller := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339, CallerPrettyfier: prettyCaller})
	case LogFormatText:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    l.config.Timestamp,
			TimestampFormat:  time.RFC3339,
			ForceColors:      l.config.Colors,
			DisableColors:    !l.config.Colors,
			CallerPrettyfier: prettyCaller,
		})
	default:
		l.logger.SetFormatter(&ExplorerFormatter{CustomFormatter{
			Timestamp: l.config.Timestamp,
			Caller:    l.config.Caller,
			Colors:    l.config.Colors,
		}})
	}
}

// setupFileOutput opens a timestamped log file and tees entries into it
func (l *Logger) setupFileOutput(console io.Writer) error {
	if l.config.OutputDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.config.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("%s%s.log", filePrefix, l.startTime.Format("2006-01-02_15-04-05.000"))
	path := filepath.Join(l.config.OutputDir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.fileHandle = file
	l.filePath = path
	l.logger.SetOutput(io.MultiWriter(console, file))

	l.logger.WithFields(logrus.Fields{
		"log_file": path,
		"level":    l.config.Level,
		"format":   l.config.Format,
	}).Debug("Logging initialized")
	return nil
}

// Close closes the log file and prunes old ones
func (l *Logger) Close() error {
	if l.fileHandle != nil {
		l.fileHandle.Close()
	}
	if err := l.cleanup(); err != nil {
		return fmt.Errorf("failed to cleanup log files: %w", err)
	}
	return nil
}

// GetLogger returns the underlying logrus logger
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}

// FilePath returns the current log file, or empty when logging to console only
func (l *Logger) FilePath() string {
	return l.filePath
}

// Exploration logging methods

// LogPhase logs an orchestrator state transition
func (l *Logger) LogPhase(device, viewport, from, to string) {
	l.logger.WithFields(logrus.Fields{
		"device":   device,
		"viewport": viewport,
		"from":     from,
		"to":       to,
	}).Debug(msgPhase)
}

// LogSnapshot logs a persisted state capture
func (l *Logger) LogSnapshot(device, viewport string, ref interfaces.SnapshotRef) {
	l.logger.WithFields(logrus.Fields{
		"device":   device,
		"viewport": viewport,
		"state":    ref.StateName,
		"index":    ref.CaptureIndex,
	}).Debug(msgSnapshot)
}

// LogObservation logs one executed test case
func (l *Logger) LogObservation(device, viewport string, obs *interfaces.ErrorObservation) {
	entry := l.logger.WithFields(logrus.Fields{
		"device":    device,
		"viewport":  viewport,
		"page":      obs.Page,
		"test_case": obs.TestCase.ID(),
		"outcome":   obs.Outcome,
		"recovered": obs.Recovered,
	})
	if obs.ErrorMessage != "" {
		entry = entry.WithField("message", obs.ErrorMessage)
	}
	if obs.Outcome == interfaces.OutcomeExecutionFailed || !obs.Recovered {
		entry.Warn(msgObservation)
		return
	}
	entry.Info(msgObservation)
}

// LogAuthProbe logs one wrong-credential submission
func (l *Logger) LogAuthProbe(device, viewport string, res *interfaces.AuthProbeResult) {
	entry := l.logger.WithFields(logrus.Fields{
		"device":        device,
		"viewport":      viewport,
		"credential":    res.CredentialKind,
		"error_visible": res.ErrorVisible,
		"still_on_auth": res.StillOnAuthSurface,
	})
	if res.ProbeError != "" {
		entry.WithField("error", res.ProbeError).Warn(msgAuthProbe)
		return
	}
	entry.Info(msgAuthProbe)
}

// LogPage logs a finished page
func (l *Logger) LogPage(device, viewport string, page *interfaces.PageResult) {
	entry := l.logger.WithFields(logrus.Fields{
		"device":       device,
		"viewport":     viewport,
		"page":         page.Path,
		"status":       page.Status,
		"snapshots":    len(page.Snapshots),
		"test_cases":   len(page.TestCases),
		"observations": len(page.Observations),
	})
	switch {
	case page.Failure != "":
		entry.WithField("failure", page.Failure).Warn(msgPage)
	case page.SkipReason != "":
		entry.WithField("reason", page.SkipReason).Info(msgPage)
	default:
		entry.Info(msgPage)
	}
}

// LogRunSummary logs the outcome of a device run
func (l *Logger) LogRunSummary(run *interfaces.DeviceRun) {
	pages := 0
	for _, vp := range run.Viewports {
		pages += len(vp.Pages)
	}
	entry := l.logger.WithFields(logrus.Fields{
		"run_id":       run.RunID,
		"device":       run.Device,
		"model":        run.Model,
		"status":       run.Status,
		"viewports":    len(run.Viewports),
		"pages":        pages,
		"observations": run.Observations(),
		"duration":     run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
	})
	if run.Status != interfaces.RunCompleted {
		entry.WithField("error", run.Error).Warn(msgRunSummary)
		return
	}
	entry.Info(msgRunSummary)
}
