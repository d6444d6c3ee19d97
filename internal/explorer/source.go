// Package explorer fetches per-address transaction history from a block
// explorer API, a deterministic mock, or a disk cache in front of either.
package explorer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
)

// Kind is the transaction category a lookup returns.
type Kind string

const (
	KindNormal Kind = "normal"
	KindToken  Kind = "token"
)

// ErrUnsupportedChain is returned when the explorer cannot serve a chain.
var ErrUnsupportedChain = errors.New("unsupported chain")

// Source returns the most recent transfers touching an address.
type Source interface {
	NormalTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error)
	TokenTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error)
}

// Scoper is implemented by sources whose storage is partitioned per incident.
type Scoper interface {
	ForIncident(id string) Source
}

// Scope returns src bound to incidentID when it supports scoping.
func Scope(src Source, incidentID string) Source {
	if s, ok := src.(Scoper); ok {
		return s.ForIncident(incidentID)
	}
	return src
}

// Fetch returns transfers of the given kind.
func Fetch(ctx context.Context, src Source, kind Kind, chain, address string, limit int) ([]graph.Transfer, error) {
	if kind == KindToken {
		return src.TokenTransfers(ctx, chain, address, limit)
	}
	return src.NormalTransfers(ctx, chain, address, limit)
}

var chainIDs = map[string]string{
	"ethereum":            "0x1",
	"eth":                 "0x1",
	"bsc":                 "0x38",
	"binance-smart-chain": "0x38",
}

// ChainID maps a chain name to the explorer's hex chain id.
func ChainID(chain string) (string, bool) {
	id, ok := chainIDs[strings.ToLower(chain)]
	return id, ok
}

// NativeSymbol is the symbol of the chain's native currency.
func NativeSymbol(chain string) string {
	if id, _ := ChainID(chain); id == "0x38" {
		return "BNB"
	}
	return "ETH"
}

// New builds the transaction source for cfg: Moralis when the explorer
// credential is set, the mock otherwise, wrapped in a FileCache when
// cfg.CacheDir is set.
func New(cfg config.ExplorerConf, creds config.Credentials, logger *slog.Logger) Source {
	if logger == nil {
		logger = slog.Default()
	}
	var src Source
	if creds.LiveExplorer() {
		src = NewMoralisClient(MoralisOptions{
			BaseURL:           cfg.BaseURL,
			APIKey:            creds.ExplorerKey,
			Timeout:           time.Duration(cfg.TimeoutMs) * time.Millisecond,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
			MaxAttempts:       cfg.MaxAttempts,
			Logger:            logger,
		})
		logger.Info("explorer source selected", "source", "moralis")
	} else {
		src = NewMockSource(cfg.MockSeed)
		logger.Info("explorer source selected", "source", "mock", "seed", cfg.MockSeed)
	}
	if cfg.CacheDir != "" {
		src = NewFileCache(cfg.CacheDir, src, logger)
	}
	return src
}
