// Package risk screens addresses for sanctions and entity attribution and
// writes the results onto graph nodes.
package risk

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
)

// ErrUnavailable wraps every failure to obtain a screening result.
var ErrUnavailable = errors.New("risk screening unavailable")

// Mode names the kind of client serving lookups.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeMock    Mode = "mock"
	ModeUnknown Mode = "unknown"
)

// AddressInfo is entity attribution for an address.
type AddressInfo struct {
	Address    string   `json:"address"`
	Chain      string   `json:"chain"`
	EntityName string   `json:"entity_name"`
	Category   string   `json:"category"`
	Labels     []string `json:"labels,omitempty"`
	Sanctioned bool     `json:"sanctioned"`
}

// Assessment is the risk verdict for an address.
type Assessment struct {
	Address    string   `json:"address"`
	Chain      string   `json:"chain"`
	Score      float64  `json:"score"`
	Sanctioned bool     `json:"sanctioned"`
	Indicators []string `json:"indicators,omitempty"`
}

// Client looks up attribution and risk for one address at a time.
type Client interface {
	AddressInfo(ctx context.Context, address, chain string) (*AddressInfo, error)
	Assess(ctx context.Context, address, chain string) (*Assessment, error)
}

// Moder is implemented by clients that know whether they are live.
type Moder interface {
	Mode() Mode
}

// Wrapper is implemented by decorators around another Client.
type Wrapper interface {
	Unwrap() Client
}

// ModeOf reports the mode of c. Decorators that do not report a mode
// themselves are unwrapped; a client that reports nothing is ModeUnknown.
func ModeOf(c Client) Mode {
	for c != nil {
		if m, ok := c.(Moder); ok {
			return m.Mode()
		}
		w, ok := c.(Wrapper)
		if !ok {
			break
		}
		c = w.Unwrap()
	}
	return ModeUnknown
}

// categoryWeights raise a score by the attributed entity category.
var categoryWeights = map[string]float64{
	"sanctions":           40,
	"terrorist financing": 40,
	"ransomware":          35,
	"stolen funds":        30,
	"hacker":              30,
	"scam":                30,
	"darknet market":      25,
	"mixer":               25,
	"gambling":            10,
}

// CategoryWeight returns the score bump for category (0 when unlisted).
func CategoryWeight(category string) float64 {
	return categoryWeights[strings.ToLower(strings.TrimSpace(category))]
}

// ToRisk merges attribution and assessment into a node risk block.
func ToRisk(info *AddressInfo, a *Assessment) graph.Risk {
	score := graph.ClampScore(a.Score)
	r := graph.Risk{
		Score:      &score,
		Level:      graph.LevelFor(&score),
		Label:      "Unknown Entity",
		Category:   "unknown",
		Sanctioned: a.Sanctioned,
		Indicators: a.Indicators,
		Status:     graph.StatusScored,
	}
	if info != nil {
		if info.EntityName != "" {
			r.Label = info.EntityName
		}
		if info.Category != "" {
			r.Category = info.Category
		}
		r.Sanctioned = r.Sanctioned || info.Sanctioned
	}
	return r
}

// New builds the client for cfg: live when the risk credential is set,
// otherwise the deterministic mock. A Redis cache wraps either when
// cfg.RedisAddr is set and reachable. The returned close func releases
// the cache connection.
func New(ctx context.Context, cfg config.EnrichmentConf, creds config.Credentials, logger *slog.Logger) (Client, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var c Client
	if creds.LiveEnrichment() {
		c = NewLiveClient(LiveOptions{
			URL:         cfg.BaseURL,
			APIKey:      creds.RiskKey,
			Timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
			MaxAttempts: cfg.MaxAttempts,
			Logger:      logger,
		})
		logger.Info("enrichment client selected", "mode", ModeLive)
	} else {
		c = NewMockClient(cfg.MockSeed)
		logger.Info("enrichment client selected", "mode", ModeMock, "seed", cfg.MockSeed)
	}

	noop := func() error { return nil }
	if cfg.RedisAddr == "" {
		return c, noop, nil
	}
	cache, err := NewRedisCache(ctx, RedisOptions{
		Addr: cfg.RedisAddr,
		TTL:  time.Duration(cfg.CacheTTLHours) * time.Hour,
	}, c, logger)
	if err != nil {
		logger.Warn("risk cache unavailable, continuing without it", "addr", cfg.RedisAddr, "err", err)
		return c, noop, nil
	}
	return cache, cache.Close, nil
}
