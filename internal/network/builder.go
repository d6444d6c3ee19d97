// Package network expands seed addresses into a transaction graph.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/explorer"
	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
)

// Seed is a starting address and the chain it lives on.
type Seed struct {
	Address string
	Chain   string
}

// Builder runs the breadth-first expansion.
type Builder struct {
	src    explorer.Source
	cfg    config.NetworkConf
	logger *slog.Logger
}

// NewBuilder creates a Builder over src.
func NewBuilder(src explorer.Source, cfg config.NetworkConf, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{src: src, cfg: cfg, logger: logger}
}

// WithSource returns a copy of b reading from src.
func (b *Builder) WithSource(src explorer.Source) *Builder {
	cp := *b
	cp.src = src
	return &cp
}

// EffectiveDepth resolves a requested depth: 0 means the configured
// default, and anything above the configured maximum is capped.
func (b *Builder) EffectiveDepth(requested int) int {
	d := requested
	if d <= 0 {
		d = b.cfg.DefaultDepth
	}
	if b.cfg.MaxDepth > 0 && d > b.cfg.MaxDepth {
		d = b.cfg.MaxDepth
	}
	if d < 1 {
		d = 1
	}
	return d
}

type fetchResult struct {
	normal []graph.Transfer
	token  []graph.Transfer
	err    error
}

// FetchTransactionNetwork builds the graph reachable from seeds.
//
// Hop 0 holds the seeds. Every frontier address is fetched and its
// transfers added; counterparties first seen at hop h are expanded only
// while h < depth. Seeds are always present, even with no history.
// Per-address failures are logged and whatever was fetched is kept.
// Only cancellation of ctx fails the whole build.
func (b *Builder) FetchTransactionNetwork(ctx context.Context, defaultChain string, seeds []Seed, depth int) (*graph.Graph, error) {
	depth = b.EffectiveDepth(depth)
	g := graph.New()

	var frontier []*graph.Node
	for _, s := range seeds {
		chain := s.Chain
		if chain == "" {
			chain = defaultChain
		}
		n := g.EnsureNode(s.Address, chain, graph.RoleSeed, 0)
		if !contains(frontier, n) {
			frontier = append(frontier, n)
		}
	}
	expanded := make(map[string]bool)
	dropped := 0

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		results, err := b.fetchFrontier(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []*graph.Node
		for i, n := range frontier {
			expanded[n.Address] = true
			res := results[i]
			if res.err != nil {
				b.logger.Warn("transaction fetch failed",
					"address", n.Address, "chain", n.Chain, "hop", hop, "err", res.err)
			}
			for _, batch := range [][]graph.Transfer{res.normal, res.token} {
				for _, t := range batch {
					if t.Chain == "" {
						t.Chain = n.Chain
					}
					if b.capped(g, t) {
						dropped++
						continue
					}
					g.AddTransfer(t, hop+1)
				}
			}
		}

		if hop+1 >= depth {
			break
		}
		for _, n := range g.Nodes() {
			if n.Hop == hop+1 && !expanded[n.Address] {
				next = append(next, n)
			}
		}
		frontier = next
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	metrics.GraphNodes.Observe(float64(g.NodeCount()))
	metrics.GraphTransfers.Observe(float64(g.TransferCount()))
	if dropped > 0 {
		b.logger.Warn("node cap reached, transfers to new addresses dropped",
			"max_nodes", b.cfg.MaxNodes, "dropped", dropped)
	}
	b.logger.Info("transaction network built",
		"seeds", len(seeds), "depth", depth, "nodes", g.NodeCount(), "transfers", g.TransferCount())
	return g, nil
}

// capped reports whether adding t would push the node count past MaxNodes.
func (b *Builder) capped(g *graph.Graph, t graph.Transfer) bool {
	if b.cfg.MaxNodes <= 0 {
		return false
	}
	added := 0
	if !g.Has(t.From) {
		added++
	}
	if !g.Has(t.To) && graph.NormalizeAddress(t.To) != graph.NormalizeAddress(t.From) {
		added++
	}
	return added > 0 && g.NodeCount()+added > b.cfg.MaxNodes
}

// fetchFrontier fetches every frontier address concurrently, bounded by
// FetchWorkers. Results are indexed like frontier so they can be applied
// in a stable order.
func (b *Builder) fetchFrontier(ctx context.Context, frontier []*graph.Node) ([]fetchResult, error) {
	results := make([]fetchResult, len(frontier))
	eg, egCtx := errgroup.WithContext(ctx)
	workers := b.cfg.FetchWorkers
	if workers <= 0 {
		workers = 1
	}
	eg.SetLimit(workers)

	limit := b.cfg.PerAddressLimit
	for i, n := range frontier {
		eg.Go(func() error {
			normal, nerr := b.src.NormalTransfers(egCtx, n.Chain, n.Address, limit)
			token, terr := b.src.TokenTransfers(egCtx, n.Chain, n.Address, limit)
			results[i] = fetchResult{normal: normal, token: token, err: errors.Join(nerr, terr)}
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	return results, nil
}

func contains(nodes []*graph.Node, n *graph.Node) bool {
	for _, m := range nodes {
		if m == n {
			return true
		}
	}
	return false
}
