package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ibeckermayer/postpilot/internal/types"
)

// Report is the JSON document written after every run
type Report struct {
	Result     types.PostResult `json:"result"`
	Kind       string           `json:"kind"`
	Caption    string           `json:"caption,omitempty"`
	MediaPath  string           `json:"media_path,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Steps      []types.Step     `json:"steps"`
}

// reportFilename sorts chronologically by name
func reportFilename(runID string, at time.Time) string {
	return fmt.Sprintf("%s_%s.json", at.UTC().Format("2006-01-02T15-04-05.000"), runID)
}

// SaveReport writes data as JSON under dir/<platform>/.
// Returns the path to the saved file.
func SaveReport[T any](dir string, platform types.Platform, runID string, data T) (string, error) {
	dir = filepath.Join(dir, string(platform))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}

	path := filepath.Join(dir, reportFilename(runID, time.Now()))

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}

// LoadReport loads JSON data from a specific file path
func LoadReport[T any](path string) (T, error) {
	var data T

	jsonData, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read report: %w", err)
	}

	if err := json.Unmarshal(jsonData, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return data, nil
}

// LatestReport returns the path to the most recent report for a platform
func LatestReport(dir string, platform types.Platform) (string, error) {
	dir = filepath.Join(dir, string(platform))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no reports for %s", platform)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our filenames
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return "", fmt.Errorf("no reports for %s", platform)
	}

	return filepath.Join(dir, files[len(files)-1]), nil
}
