/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: result_writer.go
Description: Writes batch results under a results directory. Files are named by
timestamp, kind and tool version so runs of the same batch sort chronologically.
*/

package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ResultFileName builds names like 2026-06-11_01-30-00_explore_v1.0.0.json
func ResultFileName(at time.Time, kind, version string) string {
	return fmt.Sprintf("%s_%s_v%s.json", at.Format("2006-01-02_15-04-05"), kind, version)
}

// WriteResult writes result as indented JSON to root/kind and returns the file path
func WriteResult(root, kind, version string, at time.Time, result any) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("result kind is required")
	}
	dir := filepath.Join(root, kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	path := filepath.Join(dir, ResultFileName(at, kind, version))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	return path, nil
}
