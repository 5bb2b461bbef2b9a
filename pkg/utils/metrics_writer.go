/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics_writer.go
Description: Writes run summaries (distance build reports, final fuzzing statistics) as JSON
under <dir>/<kind>/ with timestamped, versioned names, and reads the newest one back.
*/

package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// WriteMetricsResult writes result to dir/kind/<timestamp>_<kind>_v<version>.json
// and returns the path. The file appears atomically.
func WriteMetricsResult(dir, kind, version string, result interface{}) (string, error) {
	metricsDir := filepath.Join(dir, kind)
	if err := os.MkdirAll(metricsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create metrics directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	// 2026-06-11_01-30-00.000_fuzz_v1.0.0.json
	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	filePath := filepath.Join(metricsDir, fmt.Sprintf("%s_%s_v%s.json", timestamp, kind, version))

	tmp, err := os.CreateTemp(metricsDir, ".metrics-*")
	if err != nil {
		return "", fmt.Errorf("failed to write metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return "", fmt.Errorf("failed to write metrics file: %w", err)
	}
	return filePath, nil
}

// LatestMetricsResult decodes the newest result of kind into out and returns
// its path. os.ErrNotExist is returned when there is none.
func LatestMetricsResult(dir, kind string, out interface{}) (string, error) {
	files, err := filepath.Glob(filepath.Join(dir, kind, "*_"+kind+"_v*.json"))
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no %s metrics in %s: %w", kind, dir, os.ErrNotExist)
	}
	sort.Strings(files)
	latest := files[len(files)-1]
	data, err := os.ReadFile(latest)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", latest, err)
	}
	return latest, nil
}
