// Package export persists analysis artifacts for the visualization and web
// collaborators: the report-level results JSON and a tabular timeline.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/styx8114/attackmap/internal/analysis"
)

const (
	resultsFile  = "analysis_results.json"
	timelineFile = "timeline.json"
)

// Writer writes artifacts under a fixed directory.
type Writer struct {
	dir string
}

// NewWriter creates the output directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("export: create output dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// resultsDoc is the shape the web front-end reads back: the malware and
// report-level technique lists, tagged with an analysis id.
type resultsDoc struct {
	AnalysisID  string      `json:"analysis_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Malware     interface{} `json:"malware"`
	ReportTTPs  interface{} `json:"report_ttps"`
}

// SaveResults writes analysis_results.json and returns its path and the
// generated analysis id.
func (w *Writer) SaveResults(res *analysis.Result) (path, id string, err error) {
	id = uuid.NewString()
	doc := resultsDoc{
		AnalysisID:  id,
		GeneratedAt: time.Now().UTC(),
		Malware:     res.Malware,
		ReportTTPs:  res.ReportTTPs,
	}
	path = filepath.Join(w.dir, resultsFile)
	if err := writeJSON(path, doc); err != nil {
		return "", "", err
	}
	return path, id, nil
}

// SaveTimeline writes the timeline table (columns: timestamp, TTPs, context)
// consumed by the timeline visualization.
func (w *Writer) SaveTimeline(res *analysis.Result) (string, error) {
	path := filepath.Join(w.dir, timelineFile)
	if err := writeJSON(path, res.Timeline); err != nil {
		return "", err
	}
	return path, nil
}

// ResultsPath returns where SaveResults writes, whether or not it exists yet.
func (w *Writer) ResultsPath() string {
	return filepath.Join(w.dir, resultsFile)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("export: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("export: write %s: %w", filepath.Base(path), err)
	}
	return nil
}
