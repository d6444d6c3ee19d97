package risk

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
	"github.com/gyaneshwarpardhi/incidentviz/internal/workerpool"
)

// Stats counts enrichment outcomes for one graph.
type Stats struct {
	Scored  int `json:"scored"`
	Unknown int `json:"unknown"`
	Skipped int `json:"skipped"`
}

// Enricher screens every node of a graph.
type Enricher struct {
	client   Client
	workers  int
	maxNodes int
	logger   *slog.Logger
}

// NewEnricher creates an Enricher. workers <= 1 screens sequentially;
// maxNodes <= 0 screens every node.
func NewEnricher(client Client, workers, maxNodes int, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Enricher{client: client, workers: workers, maxNodes: maxNodes, logger: logger}
}

// Client returns the underlying client.
func (e *Enricher) Client() Client { return e.client }

type target struct {
	address string
	chain   string
}

// Enrich screens the nodes of g and writes their risk blocks.
func (e *Enricher) Enrich(ctx context.Context, g *graph.Graph) Stats {
	return e.EnrichPrioritized(ctx, g, nil)
}

// EnrichPrioritized is Enrich with an explicit screening order: seeds
// first, then the priority addresses, then the rest by descending volume.
// A failure for one address marks only that node unknown. Nodes beyond the
// cap are marked skipped. g is only mutated from the calling goroutine.
func (e *Enricher) EnrichPrioritized(ctx context.Context, g *graph.Graph, priority []string) Stats {
	ordered := screeningOrder(g, priority)
	screen := ordered
	var skipped []*graph.Node
	if e.maxNodes > 0 && len(ordered) > e.maxNodes {
		screen, skipped = ordered[:e.maxNodes], ordered[e.maxNodes:]
	}

	targets := make([]target, len(screen))
	for i, n := range screen {
		targets[i] = target{address: n.Address, chain: n.Chain}
	}
	results := workerpool.Map(ctx, e.workers, targets, e.screenOne, func(u float64) {
		metrics.PoolUtilization.Set(u)
	})
	metrics.PoolUtilization.Set(0)

	var st Stats
	for i, r := range results {
		n := screen[i]
		if r.Err != nil {
			e.logger.Warn("enrichment failed, marking node unknown",
				"address", n.Address, "chain", n.Chain, "err", r.Err)
			n.Risk = graph.UnknownRisk(r.Err)
			st.Unknown++
			continue
		}
		n.Risk = r.Value
		st.Scored++
	}
	for _, n := range skipped {
		n.Risk = graph.Risk{
			Level:    graph.LevelUnknown,
			Label:    "Unknown Entity",
			Category: "unknown",
			Status:   graph.StatusSkipped,
		}
		st.Skipped++
	}

	metrics.EnrichmentOutcomes.WithLabelValues(string(graph.StatusScored)).Add(float64(st.Scored))
	metrics.EnrichmentOutcomes.WithLabelValues(string(graph.StatusUnknown)).Add(float64(st.Unknown))
	metrics.EnrichmentOutcomes.WithLabelValues(string(graph.StatusSkipped)).Add(float64(st.Skipped))
	e.logger.Info("enrichment finished",
		"mode", ModeOf(e.client), "scored", st.Scored, "unknown", st.Unknown, "skipped", st.Skipped)
	return st
}

func (e *Enricher) screenOne(ctx context.Context, t target) (graph.Risk, error) {
	info, ierr := e.client.AddressInfo(ctx, t.address, t.chain)
	a, aerr := e.client.Assess(ctx, t.address, t.chain)
	if err := errors.Join(ierr, aerr); err != nil {
		return graph.Risk{}, err
	}
	return ToRisk(info, a), nil
}

func screeningOrder(g *graph.Graph, priority []string) []*graph.Node {
	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		addr := graph.NormalizeAddress(p)
		if _, ok := rank[addr]; !ok {
			rank[addr] = i
		}
	}
	tier := func(n *graph.Node) int {
		switch {
		case n.IsSeed():
			return 0
		case hasRank(rank, n.Address):
			return 1
		default:
			return 2
		}
	}

	nodes := g.Nodes()
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		ta, tb := tier(a), tier(b)
		if ta != tb {
			return ta < tb
		}
		switch ta {
		case 1:
			return rank[a.Address] < rank[b.Address]
		case 2:
			return a.Volume > b.Volume
		}
		return false
	})
	return nodes
}

func hasRank(rank map[string]int, addr string) bool {
	_, ok := rank[addr]
	return ok
}
