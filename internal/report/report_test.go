package report_test

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/incident"
	"github.com/gyaneshwarpardhi/incidentviz/internal/report"
)

const (
	seed = "0xaaaa000000000000000000000000000000000001"
	peer = "0xbbbb000000000000000000000000000000000002"
	far  = "0xcccc000000000000000000000000000000000003"
)

func score(v float64) *float64 { return &v }

func testIncident() *incident.Incident {
	return &incident.Incident{
		ID:          "incident-001",
		Name:        "Bridge drain",
		Blockchain:  "ethereum",
		Addresses:   []incident.Seed{{Address: seed}},
		Description: "Funds drained from the bridge hot wallet & laundered.",
	}
}

func testGraph() *graph.Graph {
	g := graph.New()
	g.EnsureNode(seed, "ethereum", graph.RoleSeed, 0)
	g.AddTransfer(graph.Transfer{Hash: "0x01", From: seed, To: peer, Amount: 12.5, Token: "ETH", Chain: "ethereum"}, 1)
	g.AddTransfer(graph.Transfer{Hash: "0x02", From: peer, To: far, Amount: 3, Token: "USDT", Chain: "ethereum", IsToken: true}, 2)

	g.Node(seed).Risk = graph.Risk{Score: score(82), Level: graph.LevelHigh, Label: "Hacker", Category: "hacker", Status: graph.StatusScored}
	g.Node(peer).Risk = graph.Risk{Score: score(45), Level: graph.LevelMedium, Label: "Mixer", Category: "mixer", Status: graph.StatusScored}
	g.Node(far).Risk = graph.UnknownRisk(nil)
	return g
}

func TestGenerateVisualization_WritesReport(t *testing.T) {
	dir := t.TempDir()
	r := report.NewRenderer(report.Options{OutputDir: dir, TopEntities: 5, Mode: "mock"}, nil)

	rep, err := r.GenerateVisualization(context.Background(), testGraph(), testIncident())
	require.NoError(t, err)

	want := filepath.Join(dir, "incident-001", report.HTMLFile)
	assert.Equal(t, want, rep.OutputPath)
	assert.Equal(t, filepath.Join(dir, "incident-001", report.DataFile), rep.DataPath)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "mock", rep.EnrichmentMode)

	html, err := os.ReadFile(want)
	require.NoError(t, err)
	page := string(html)
	assert.Contains(t, page, "Bridge drain")
	assert.Contains(t, page, "Funds drained from the bridge hot wallet &amp; laundered.")
	assert.Contains(t, page, "Technical Summary")
	assert.Contains(t, page, rep.RunID)
	for _, e := range report.Legend() {
		assert.Contains(t, page, e.Color)
	}
	assert.Contains(t, page, seed)

	assert.Contains(t, rep.Summary.Text, "Description: Funds drained from the bridge hot wallet & laundered.")
	assert.Equal(t, 3, rep.Summary.Stats.Nodes)
	assert.Equal(t, 2, rep.Summary.Stats.Edges)
	assert.Equal(t, 1, rep.Summary.Stats.HighRisk)
	assert.Equal(t, 1, rep.Summary.Stats.MediumRisk)
	assert.Equal(t, 1, rep.Summary.Stats.UnknownRisk)
	assert.Equal(t, 2, rep.Summary.Stats.MaxHop)

	data, err := os.ReadFile(rep.DataPath)
	require.NoError(t, err)
	var decoded report.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rep.RunID, decoded.RunID)
	assert.Len(t, decoded.Payload.Nodes, 3)
	assert.Len(t, decoded.Payload.Links, 2)
}

func TestGenerateVisualization_OverwritesOnRerun(t *testing.T) {
	dir := t.TempDir()
	r := report.NewRenderer(report.Options{OutputDir: dir}, nil)
	inc := testIncident()

	first, err := r.GenerateVisualization(context.Background(), testGraph(), inc)
	require.NoError(t, err)

	inc.Description = "Updated after triage."
	second, err := r.GenerateVisualization(context.Background(), testGraph(), inc)
	require.NoError(t, err)

	assert.Equal(t, first.OutputPath, second.OutputPath)
	assert.NotEqual(t, first.RunID, second.RunID)

	html, err := os.ReadFile(second.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Updated after triage.")
	assert.NotContains(t, string(html), first.RunID)

	entries, err := os.ReadDir(filepath.Join(dir, inc.ID))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestGenerateVisualization_MissingDescription(t *testing.T) {
	r := report.NewRenderer(report.Options{OutputDir: t.TempDir()}, nil)
	inc := testIncident()
	inc.Description = ""

	rep, err := r.GenerateVisualization(context.Background(), testGraph(), inc)
	require.NoError(t, err)
	assert.Contains(t, rep.Summary.Text, "No description available.")
}

func TestGenerateVisualization_InvalidID(t *testing.T) {
	dir := t.TempDir()
	r := report.NewRenderer(report.Options{OutputDir: dir}, nil)

	for _, id := range []string{"", "..", "../escape", `a\b`, "x/y"} {
		inc := testIncident()
		inc.ID = id
		_, err := r.GenerateVisualization(context.Background(), testGraph(), inc)
		assert.ErrorIs(t, err, report.ErrInvalidIncidentID, "id %q", id)
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateVisualization_OutputDirIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "output")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))
	r := report.NewRenderer(report.Options{OutputDir: blocker}, nil)

	rep, err := r.GenerateVisualization(context.Background(), testGraph(), testIncident())
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.Contains(t, err.Error(), "create report dir")

	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr, "os cause stays reachable")
	assert.Contains(t, pathErr.Path, blocker)
}

func TestGenerateVisualization_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := report.NewRenderer(report.Options{OutputDir: t.TempDir()}, nil)
	_, err := r.GenerateVisualization(ctx, testGraph(), testIncident())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPayload(t *testing.T) {
	p := report.BuildPayload(testGraph())
	require.Len(t, p.Nodes, 3)

	byID := map[string]report.NodeView{}
	for _, n := range p.Nodes {
		byID[n.ID] = n
	}
	assert.Equal(t, report.ColorHigh, byID[seed].Color)
	assert.Equal(t, report.ColorMedium, byID[peer].Color)
	assert.Equal(t, report.ColorUnknown, byID[far].Color)
	assert.Nil(t, byID[far].Score)
	assert.Greater(t, byID[seed].Size, byID[far].Size)

	require.Len(t, p.Links, 2)
	assert.Equal(t, graph.DirectionOutbound, p.Links[0].Direction)
	assert.Equal(t, graph.DirectionLateral, p.Links[1].Direction)
	assert.Greater(t, p.Links[0].Width, p.Links[1].Width)
}

func TestBuildPayload_EmptyGraphHasArrays(t *testing.T) {
	data, err := json.Marshal(report.BuildPayload(graph.New()))
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"links":[]}`, string(data))
}

func TestBuildSummary_TopEntities(t *testing.T) {
	s := report.BuildSummary(testGraph(), testIncident(), 1, "live")
	require.Len(t, s.Stats.TopEntities, 1)
	assert.Equal(t, seed, s.Stats.TopEntities[0].Address)
	assert.True(t, s.Stats.TopEntities[0].Seed)
	assert.Equal(t, "live", s.Stats.EnrichedWith)
	assert.Equal(t, []string{"ethereum"}, s.Stats.Chains)
	assert.True(t, strings.HasPrefix(s.Text, "Incident incident-001"))
}

func TestColorFor(t *testing.T) {
	assert.Equal(t, report.ColorLow, report.ColorFor(graph.LevelLow))
	assert.Equal(t, report.ColorMedium, report.ColorFor(graph.LevelMedium))
	assert.Equal(t, report.ColorHigh, report.ColorFor(graph.LevelHigh))
	assert.Equal(t, report.ColorUnknown, report.ColorFor(graph.LevelUnknown))
	assert.Len(t, report.Legend(), 4)
}
