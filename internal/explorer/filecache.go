package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
)

// FileCache stores fetched transfers as JSON files under
// <dir>/<incident>/<address without 0x>_<chain>_<kind>.json. A cache that
// is not bound to an incident passes every call through.
type FileCache struct {
	dir      string
	incident string
	next     Source
	logger   *slog.Logger
}

// NewFileCache wraps next with an unscoped cache rooted at dir.
func NewFileCache(dir string, next Source, logger *slog.Logger) *FileCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileCache{dir: dir, next: next, logger: logger}
}

// ForIncident returns a copy of the cache bound to incident id.
func (c *FileCache) ForIncident(id string) Source {
	cp := *c
	cp.incident = id
	return &cp
}

// NormalTransfers serves native transfers from disk when cached.
func (c *FileCache) NormalTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error) {
	return c.fetch(ctx, KindNormal, chain, address, limit)
}

// TokenTransfers serves token transfers from disk when cached.
func (c *FileCache) TokenTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error) {
	return c.fetch(ctx, KindToken, chain, address, limit)
}

// Path returns the cache file for an address on chain, or "" when unscoped.
func (c *FileCache) Path(chain, address string, kind Kind) string {
	if c.incident == "" {
		return ""
	}
	addr := strings.TrimPrefix(graph.NormalizeAddress(address), "0x")
	return filepath.Join(c.dir, filepath.Base(c.incident),
		fmt.Sprintf("%s_%s_%s.json", fileSafe(addr), fileSafe(strings.ToLower(chain)), kind))
}

// fileSafe replaces anything but letters, digits and '-' with '_'.
func fileSafe(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}

func (c *FileCache) fetch(ctx context.Context, kind Kind, chain, address string, limit int) ([]graph.Transfer, error) {
	path := c.Path(chain, address, kind)
	if path == "" {
		return Fetch(ctx, c.next, kind, chain, address, limit)
	}
	if cached, ok := c.read(path); ok {
		metrics.ExplorerRequests.WithLabelValues("cache", "hit").Inc()
		c.logger.Debug("explorer cache hit", "address", address, "kind", kind)
		return truncate(cached, limit), nil
	}
	metrics.ExplorerRequests.WithLabelValues("cache", "miss").Inc()

	txs, err := Fetch(ctx, c.next, kind, chain, address, limit)
	if err != nil {
		return nil, err
	}
	c.write(path, txs)
	return txs, nil
}

func (c *FileCache) read(path string) ([]graph.Transfer, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("explorer cache read failed", "path", path, "err", err)
		}
		return nil, false
	}
	var txs []graph.Transfer
	if err := json.Unmarshal(data, &txs); err != nil {
		c.logger.Warn("explorer cache entry corrupt, refetching", "path", path, "err", err)
		return nil, false
	}
	return txs, true
}

func (c *FileCache) write(path string, txs []graph.Transfer) {
	if txs == nil {
		txs = []graph.Transfer{}
	}
	data, err := json.MarshalIndent(txs, "", "  ")
	if err != nil {
		c.logger.Warn("explorer cache encode failed", "path", path, "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.logger.Warn("explorer cache mkdir failed", "path", path, "err", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*")
	if err != nil {
		c.logger.Warn("explorer cache write failed", "path", path, "err", err)
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		c.logger.Warn("explorer cache write failed", "path", path, "err", errors.Join(werr, cerr))
		return
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		c.logger.Warn("explorer cache write failed", "path", path, "err", err)
	}
}
