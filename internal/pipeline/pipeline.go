// Package pipeline wires the incident store, network builder, enricher and
// renderer into the per-incident investigation run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/explorer"
	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/incident"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
	"github.com/gyaneshwarpardhi/incidentviz/internal/network"
	"github.com/gyaneshwarpardhi/incidentviz/internal/report"
	"github.com/gyaneshwarpardhi/incidentviz/internal/risk"
)

// Capabilities is the fixed set of operations an orchestrator may invoke.
type Capabilities interface {
	GetIncident(ctx context.Context, id string) (*incident.Incident, error)
	FetchAddressInfo(ctx context.Context, address, chain string) (*risk.AddressInfo, error)
	FetchRiskAssessment(ctx context.Context, address, chain string) (*risk.Assessment, error)
	FetchTransactionNetwork(ctx context.Context, inc *incident.Incident) (*graph.Graph, error)
	GenerateVisualization(ctx context.Context, g *graph.Graph, inc *incident.Incident) (*report.Report, error)
}

var _ Capabilities = (*Pipeline)(nil)

// Outcome is the result of one incident run.
type Outcome struct {
	IncidentID string         `json:"incident_id"`
	Report     *report.Report `json:"report,omitempty"`
	Enrichment risk.Stats     `json:"enrichment"`
	Flagged    int            `json:"flagged_transfers"`
	DurationMs int64          `json:"duration_ms"`
	Err        error          `json:"-"`
	Error      string         `json:"error,omitempty"`
}

// Pipeline runs incidents end to end. It is safe for concurrent use; every
// run builds its own graph.
type Pipeline struct {
	store    *incident.Store
	source   explorer.Source
	client   risk.Client
	builder  *network.Builder
	enricher *risk.Enricher
	renderer *report.Renderer
	logger   *slog.Logger
}

// New creates a Pipeline from cfg over the given store, transaction source
// and risk client.
func New(store *incident.Store, src explorer.Source, client risk.Client, cfg *config.PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		source:   src,
		client:   client,
		builder:  network.NewBuilder(src, cfg.Network, logger),
		enricher: risk.NewEnricher(client, cfg.Enrichment.Workers, cfg.Enrichment.MaxNodes, logger),
		renderer: report.NewRenderer(report.Options{
			OutputDir:   cfg.OutputDir,
			Title:       cfg.Report.Title,
			TopEntities: cfg.Report.TopEntities,
			Mode:        string(risk.ModeOf(client)),
		}, logger),
		logger: logger,
	}
}

// Store returns the incident store the pipeline reads from.
func (p *Pipeline) Store() *incident.Store { return p.store }

// ReportPath returns where the report for id is written.
func (p *Pipeline) ReportPath(id string) (string, error) { return p.renderer.PathFor(id) }

// GetIncident looks up one incident record.
func (p *Pipeline) GetIncident(ctx context.Context, id string) (*incident.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.store.Get(id)
}

// FetchAddressInfo returns entity attribution for one address.
func (p *Pipeline) FetchAddressInfo(ctx context.Context, address, chain string) (*risk.AddressInfo, error) {
	return p.client.AddressInfo(ctx, address, chain)
}

// FetchRiskAssessment returns the risk score for one address.
func (p *Pipeline) FetchRiskAssessment(ctx context.Context, address, chain string) (*risk.Assessment, error) {
	return p.client.Assess(ctx, address, chain)
}

// FetchTransactionNetwork expands the incident's seed addresses into a
// transaction graph, reading through a source scoped to the incident.
func (p *Pipeline) FetchTransactionNetwork(ctx context.Context, inc *incident.Incident) (*graph.Graph, error) {
	seeds := make([]network.Seed, 0, len(inc.Addresses))
	for _, s := range inc.Addresses {
		seeds = append(seeds, network.Seed{Address: s.Address, Chain: inc.ChainFor(s)})
	}
	b := p.builder.WithSource(explorer.Scope(p.source, inc.ID))
	return b.FetchTransactionNetwork(ctx, strings.ToLower(inc.Blockchain), seeds, inc.NetworkDepth)
}

// GenerateVisualization renders the enriched graph for inc.
func (p *Pipeline) GenerateVisualization(ctx context.Context, g *graph.Graph, inc *incident.Incident) (*report.Report, error) {
	return p.renderer.GenerateVisualization(ctx, g, inc)
}

// Run processes one incident: load, expand, enrich, render.
func (p *Pipeline) Run(ctx context.Context, id string) (*report.Report, error) {
	out := p.RunOne(ctx, id)
	return out.Report, out.Err
}

// RunOne is Run returning the full Outcome.
func (p *Pipeline) RunOne(ctx context.Context, id string) Outcome {
	start := time.Now()
	out := Outcome{IncidentID: id}
	out.Report, out.Err = p.run(ctx, id, &out)

	out.DurationMs = time.Since(start).Milliseconds()
	metrics.RunDuration.Observe(float64(out.DurationMs))
	if out.Err != nil {
		out.Error = out.Err.Error()
		metrics.IncidentsProcessed.WithLabelValues("error").Inc()
		p.logger.Error("incident run failed", "incident", id, "err", out.Err)
		return out
	}
	metrics.IncidentsProcessed.WithLabelValues("ok").Inc()
	p.logger.Info("incident run complete", "incident", id, "path", out.Report.OutputPath,
		"scored", out.Enrichment.Scored, "unknown", out.Enrichment.Unknown,
		"skipped", out.Enrichment.Skipped, "ms", out.DurationMs)
	return out
}

func (p *Pipeline) run(ctx context.Context, id string, out *Outcome) (*report.Report, error) {
	inc, err := p.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	p.logger.Info("incident loaded", "incident", id, "chain", inc.Blockchain,
		"seeds", inc.SeedAddresses(), "depth", inc.NetworkDepth)

	g, err := p.FetchTransactionNetwork(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("fetch transaction network %s: %w", id, err)
	}
	out.Flagged = g.FlagTransactions(inc.TransactionIDs)
	if len(inc.TransactionIDs) > 0 && out.Flagged == 0 {
		p.logger.Warn("no incident transaction found in the network",
			"incident", id, "transaction_ids", len(inc.TransactionIDs))
	}

	out.Enrichment = p.enricher.EnrichPrioritized(ctx, g, inc.ScreenForSanctions)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("enrich %s: %w", id, err)
	}

	rep, err := p.GenerateVisualization(ctx, g, inc)
	if err != nil {
		return nil, fmt.Errorf("generate visualization %s: %w", id, err)
	}
	return rep, nil
}

// RunAll processes every incident in file order. A failing incident does
// not stop the others; the error return covers only loading the store.
func (p *Pipeline) RunAll(ctx context.Context) ([]Outcome, error) {
	all, err := p.store.All()
	if err != nil {
		return nil, fmt.Errorf("load incidents: %w", err)
	}
	outcomes := make([]Outcome, 0, len(all))
	for _, inc := range all {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{IncidentID: inc.ID, Err: err, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, p.RunOne(ctx, inc.ID))
	}
	return outcomes, nil
}

// RunFirst processes the first incident in the file.
func (p *Pipeline) RunFirst(ctx context.Context) (Outcome, error) {
	inc, err := p.store.First()
	if err != nil {
		return Outcome{}, fmt.Errorf("load first incident: %w", err)
	}
	return p.RunOne(ctx, inc.ID), nil
}

// Failed counts outcomes with an error.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// IsNotFound reports whether err means the incident id does not exist.
func IsNotFound(err error) bool { return errors.Is(err, incident.ErrNotFound) }
