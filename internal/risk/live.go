package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
	"github.com/gyaneshwarpardhi/incidentviz/internal/retry"
)

// LiveOptions configures a LiveClient.
type LiveOptions struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	HTTPClient  *http.Client
	Logger      *slog.Logger
	// MemoTTL bounds how long a successful screening is reused.
	// Zero uses DefaultMemoTTL.
	MemoTTL time.Duration
}

// DefaultMemoTTL is how long a successful screening is shared between lookups.
const DefaultMemoTTL = 10 * time.Minute

// memoSweepAt is the memo size above which expired entries are dropped.
const memoSweepAt = 1024

// screening is one decoded result of the sanctions screening endpoint.
type screening struct {
	Address        string            `json:"address"`
	Chain          string            `json:"chain"`
	IsSanctioned   bool              `json:"isSanctioned"`
	Name           string            `json:"name"`
	Category       string            `json:"category"`
	Labels         []string          `json:"labels"`
	RiskIndicators []json.RawMessage `json:"riskIndicators"`
}

type screenRequest struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
}

type inflight struct {
	done    chan struct{}
	res     *screening
	err     error
	expires time.Time // set once done
}

func (f *inflight) expired(now time.Time) bool {
	select {
	case <-f.done:
		return !now.Before(f.expires)
	default:
		return false
	}
}

// LiveClient calls the sanctions screening API. Both AddressInfo and
// Assess share one screening per (chain, address).
type LiveClient struct {
	url    string
	apiKey string
	http   *http.Client
	policy retry.Policy
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls map[string]*inflight
}

// NewLiveClient creates a LiveClient.
func NewLiveClient(opts LiveOptions) *LiveClient {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.MemoTTL <= 0 {
		opts.MemoTTL = DefaultMemoTTL
	}
	c := &LiveClient{
		url:    opts.URL,
		apiKey: opts.APIKey,
		http:   opts.HTTPClient,
		logger: opts.Logger,
		ttl:    opts.MemoTTL,
		now:    time.Now,
		calls:  make(map[string]*inflight),
	}
	c.policy = retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      100 * time.Millisecond,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			c.logger.Warn("risk screening failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		},
	}
	return c
}

// Mode implements Moder.
func (c *LiveClient) Mode() Mode { return ModeLive }

// AddressInfo returns the screened entity attribution.
func (c *LiveClient) AddressInfo(ctx context.Context, address, chain string) (*AddressInfo, error) {
	s, err := c.screen(ctx, address, chain)
	if err != nil {
		return nil, err
	}
	info := &AddressInfo{
		Address:    address,
		Chain:      chain,
		EntityName: s.Name,
		Category:   s.Category,
		Labels:     s.Labels,
		Sanctioned: s.IsSanctioned,
	}
	if info.EntityName == "" {
		info.EntityName = "Unknown Entity"
	}
	if info.Category == "" {
		info.Category = "unknown"
	}
	return info, nil
}

// Assess derives a 0-100 score from the screening: 100 when sanctioned,
// otherwise 20 per risk indicator (at most 95) plus the category weight.
func (c *LiveClient) Assess(ctx context.Context, address, chain string) (*Assessment, error) {
	s, err := c.screen(ctx, address, chain)
	if err != nil {
		return nil, err
	}
	indicators := indicatorNames(s.RiskIndicators)
	score := 100.0
	if !s.IsSanctioned {
		score = math.Min(95, 20*float64(len(indicators))) + CategoryWeight(s.Category)
		score = math.Min(score, 100)
	}
	return &Assessment{
		Address:    address,
		Chain:      chain,
		Score:      score,
		Sanctioned: s.IsSanctioned,
		Indicators: indicators,
	}, nil
}

func (c *LiveClient) screen(ctx context.Context, address, chain string) (*screening, error) {
	key := screenChain(chain) + ":" + strings.ToLower(address)

	c.mu.Lock()
	now := c.now()
	if call, ok := c.calls[key]; ok && !call.expired(now) {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}
	}
	if len(c.calls) >= memoSweepAt {
		c.sweepLocked(now)
	}
	call := &inflight{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()

	call.res, call.err = c.post(ctx, address, chain)
	call.expires = c.now().Add(c.ttl)
	if call.err != nil {
		// Failures are not memoized so a later run can retry.
		c.mu.Lock()
		if c.calls[key] == call {
			delete(c.calls, key)
		}
		c.mu.Unlock()
	}
	close(call.done)
	return call.res, call.err
}

// sweepLocked drops finished entries past their TTL. c.mu must be held.
func (c *LiveClient) sweepLocked(now time.Time) {
	for k, call := range c.calls {
		if call.expired(now) {
			delete(c.calls, k)
		}
	}
}


func (c *LiveClient) post(ctx context.Context, address, chain string) (*screening, error) {
	body, err := json.Marshal([]screenRequest{{Address: address, Chain: screenChain(chain)}})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrUnavailable, err)
	}

	var results []screening
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Basic "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &retry.StatusError{Op: "sanctions screening", Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		results = nil
		if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
			return fmt.Errorf("decode screening response: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.RiskLookups.WithLabelValues(string(ModeLive), "error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, address, err)
	}
	metrics.RiskLookups.WithLabelValues(string(ModeLive), "ok").Inc()
	if len(results) == 0 {
		// An empty result list means nothing is known about the address.
		return &screening{Address: address, Chain: chain}, nil
	}
	return &results[0], nil
}

// screenChain maps chain aliases to the names the screening API expects.
func screenChain(chain string) string {
	c := strings.ToLower(strings.TrimSpace(chain))
	if c == "binance-smart-chain" {
		return "bsc"
	}
	return c
}

// indicatorNames flattens risk indicators, which arrive either as plain
// strings or as objects carrying a category or risk type.
func indicatorNames(raw []json.RawMessage) []string {
	var out []string
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Category string `json:"category"`
			RiskType string `json:"riskType"`
		}
		if err := json.Unmarshal(r, &obj); err != nil {
			continue
		}
		switch {
		case obj.Category != "":
			out = append(out, obj.Category)
		case obj.RiskType != "":
			out = append(out, obj.RiskType)
		default:
			out = append(out, "unspecified")
		}
	}
	return out
}
