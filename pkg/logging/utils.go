/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Log file retention for Kronos Explorer. Compresses the logs of earlier
runs, removes the oldest files beyond the configured count and reports directory
statistics.
*/

package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogStats holds statistics about log files
type LogStats struct {
	TotalFiles        int       `json:"total_files"`
	TotalSize         int64     `json:"total_size"`
	CompressedFiles   int       `json:"compressed_files"`
	UncompressedFiles int       `json:"uncompressed_files"`
	OldestFile        time.Time `json:"oldest_file"`
	NewestFile        time.Time `json:"newest_file"`
}

// logFiles lists plain and compressed run logs, oldest first.
// Names embed the start time so lexical order is age order.
func logFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.log*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// compressFile gzips a log file and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	compressed, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer compressed.Close()

	gz := gzip.NewWriter(compressed)
	if _, err := io.Copy(gz, source); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// cleanup compresses logs of earlier runs when enabled, then removes
// the oldest files beyond MaxFiles
func (l *Logger) cleanup() error {
	dir := l.config.OutputDir
	if dir == "" {
		return nil
	}
	files, err := logFiles(dir)
	if err != nil {
		return err
	}

	if l.config.Compress {
		for i, f := range files {
			if f == l.filePath || !strings.HasSuffix(f, ".log") {
				continue
			}
			if err := compressFile(f); err != nil {
				return fmt.Errorf("failed to compress %s: %w", f, err)
			}
			files[i] = f + ".gz"
		}
	}

	if len(files) <= l.config.MaxFiles {
		return nil
	}
	for _, f := range files[:len(files)-l.config.MaxFiles] {
		if f == l.filePath {
			continue
		}
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove file %s: %w", f, err)
		}
	}
	return nil
}

// GetLogStats returns statistics about the log files in dir
func GetLogStats(dir string) (*LogStats, error) {
	files, err := logFiles(dir)
	if err != nil {
		return nil, err
	}

	stats := &LogStats{}
	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}
		stats.TotalFiles++
		stats.TotalSize += stat.Size()
		if stats.OldestFile.IsZero() || stat.ModTime().Before(stats.OldestFile) {
			stats.OldestFile = stat.ModTime()
		}
		if stat.ModTime().After(stats.NewestFile) {
			stats.NewestFile = stat.ModTime()
		}
		if strings.HasSuffix(file, ".gz") {
			stats.CompressedFiles++
		} else {
			stats.UncompressedFiles++
		}
	}
	return stats, nil
}
