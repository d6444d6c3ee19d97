// Package report renders an enriched transaction graph as a self-contained
// HTML page plus a JSON sidecar.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/incident"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
)

const (
	HTMLFile = "incident.html"
	DataFile = "graph.json"
)

// ErrInvalidIncidentID is returned for ids that are not a single safe path element.
var ErrInvalidIncidentID = errors.New("invalid incident id")

//go:embed template.html
var pageSource string

var page = template.Must(template.New("incident").Funcs(template.FuncMap{
	"score": func(s *float64) string {
		if s == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f", *s)
	},
	"volume": func(v float64) string { return fmt.Sprintf("%.4f", v) },
	"inc":    func(i int) int { return i + 1 },
}).Parse(pageSource))

// Report is a rendered, write-once artifact.
type Report struct {
	RunID          string    `json:"run_id"`
	IncidentID     string    `json:"incident_id"`
	Payload        Payload   `json:"payload"`
	Summary        Summary   `json:"summary"`
	OutputPath     string    `json:"output_path"`
	DataPath       string    `json:"data_path"`
	GeneratedAt    time.Time `json:"generated_at"`
	EnrichmentMode string    `json:"enrichment_mode"`
}

// Options configures a Renderer.
type Options struct {
	OutputDir   string
	Title       string
	TopEntities int
	// Mode names the enrichment source shown in the report (live or mock).
	Mode string
}

// Renderer writes reports under OutputDir.
type Renderer struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRenderer creates a Renderer.
func NewRenderer(opts Options, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Title == "" {
		opts.Title = "Blockchain Incident Visualization"
	}
	return &Renderer{opts: opts, logger: logger, now: time.Now}
}

// PathFor returns where the report for incidentID is written.
func (r *Renderer) PathFor(incidentID string) (string, error) {
	if err := ValidateIncidentID(incidentID); err != nil {
		return "", err
	}
	return filepath.Join(r.opts.OutputDir, incidentID, HTMLFile), nil
}

// ValidateIncidentID checks that id can be used as a directory name.
func ValidateIncidentID(id string) error {
	switch {
	case strings.TrimSpace(id) == "",
		id == ".", id == "..",
		strings.ContainsAny(id, `/\`),
		strings.ContainsRune(id, 0),
		filepath.Base(id) != id:
		return fmt.Errorf("%w: %q", ErrInvalidIncidentID, id)
	}
	return nil
}

type pageData struct {
	Title       string
	Incident    *incident.Incident
	Summary     Summary
	Legend      []LegendEntry
	Payload     Payload
	RunID       string
	GeneratedAt string
}

// GenerateVisualization renders g for inc and writes
// <output_dir>/<id>/incident.html and graph.json. Rerunning overwrites
// both files in place.
func (r *Renderer) GenerateVisualization(ctx context.Context, g *graph.Graph, inc *incident.Incident) (*Report, error) {
	start := r.now()
	path, err := r.PathFor(inc.ID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:          uuid.NewString(),
		IncidentID:     inc.ID,
		Payload:        BuildPayload(g),
		Summary:        BuildSummary(g, inc, r.opts.TopEntities, r.opts.Mode),
		OutputPath:     path,
		DataPath:       filepath.Join(filepath.Dir(path), DataFile),
		GeneratedAt:    start.UTC(),
		EnrichmentMode: r.opts.Mode,
	}

	var buf bytes.Buffer
	err = page.Execute(&buf, pageData{
		Title:       r.opts.Title,
		Incident:    inc,
		Summary:     rep.Summary,
		Legend:      Legend(),
		Payload:     rep.Payload,
		RunID:       rep.RunID,
		GeneratedAt: rep.GeneratedAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("render report %s: %w", inc.ID, err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report data %s: %w", inc.ID, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir %s: %w", dir, err)
	}
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write report %s: %w", path, err)
	}
	if err := writeFileAtomic(rep.DataPath, data); err != nil {
		return nil, fmt.Errorf("write report data %s: %w", rep.DataPath, err)
	}

	elapsed := time.Since(start)
	metrics.RenderDuration.Observe(float64(elapsed.Milliseconds()))
	r.logger.Info("report written", "incident", inc.ID, "path", path,
		"nodes", rep.Summary.Stats.Nodes, "edges", rep.Summary.Stats.Edges, "ms", elapsed.Milliseconds())
	return rep, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
