package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/incidentviz/internal/config"
	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
)

const addrA = "0x1111111111111111111111111111111111111111"

// ── Live client ──

func newTestLive(t *testing.T, h http.HandlerFunc) *LiveClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewLiveClient(LiveOptions{URL: srv.URL, APIKey: "trm-key", Timeout: 2 * time.Second, MaxAttempts: 3})
	c.policy.BaseDelay = time.Millisecond
	c.policy.MaxDelay = time.Millisecond
	c.policy.Jitter = 0
	return c
}

func TestLiveClient_RequestShapeAndSharedScreening(t *testing.T) {
	var calls atomic.Int32
	c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Basic trm-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `[{"address":"`+addrA+`","chain":"bsc"}]`, string(body))
		_, _ = w.Write([]byte(`[{"address":"` + addrA + `","isSanctioned":false,"name":"Tornado Router","category":"Mixer",
			"labels":["mixer"],"riskIndicators":[{"category":"Mixer","riskType":"OWNERSHIP"},"peel chain"]}]`))
	})

	ctx := context.Background()
	info, err := c.AddressInfo(ctx, addrA, "binance-smart-chain")
	require.NoError(t, err)
	a, err := c.Assess(ctx, addrA, "binance-smart-chain")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load(), "both operations share one screening")
	assert.Equal(t, "Tornado Router", info.EntityName)
	assert.Equal(t, "Mixer", info.Category)
	assert.Equal(t, []string{"mixer"}, info.Labels)
	assert.Equal(t, []string{"Mixer", "peel chain"}, a.Indicators)
	assert.Equal(t, 65.0, a.Score, "2 indicators * 20 + mixer weight 25")
	assert.False(t, a.Sanctioned)
}

func TestLiveClient_Scores(t *testing.T) {
	cases := []struct {
		name string
		body string
		want float64
	}{
		{"sanctioned", `[{"isSanctioned":true,"riskIndicators":[]}]`, 100},
		{"clean", `[{"isSanctioned":false,"category":"exchange","riskIndicators":[]}]`, 0},
		{"indicator cap", `[{"isSanctioned":false,"riskIndicators":["a","b","c","d","e","f"]}]`, 95},
		{"overall cap", `[{"isSanctioned":false,"category":"ransomware","riskIndicators":["a","b","c","d","e"]}]`, 100},
		{"empty result", `[]`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})
			a, err := c.Assess(context.Background(), addrA, "ethereum")
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.Score)
		})
	}
}

func TestLiveClient_EmptyResultDefaults(t *testing.T) {
	c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`[]`)) })
	info, err := c.AddressInfo(context.Background(), addrA, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "Unknown Entity", info.EntityName)
	assert.Equal(t, "unknown", info.Category)
}

func TestLiveClient_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"isSanctioned":true}]`))
	})
	a, err := c.Assess(context.Background(), addrA, "ethereum")
	require.NoError(t, err)
	assert.True(t, a.Sanctioned)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLiveClient_FailuresWrapUnavailableAndAreNotMemoized(t *testing.T) {
	var calls atomic.Int32
	c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})
	_, err := c.Assess(context.Background(), addrA, "ethereum")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = c.AddressInfo(context.Background(), addrA, "ethereum")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "malformed responses are fatal and not cached")
}

func TestLiveClient_MemoExpires(t *testing.T) {
	var calls atomic.Int32
	c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := c.Assess(ctx, addrA, "ethereum")
	require.NoError(t, err)
	clock = clock.Add(DefaultMemoTTL - time.Second)
	_, err = c.Assess(ctx, addrA, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "fresh screening is reused")

	clock = clock.Add(2 * time.Second)
	_, err = c.Assess(ctx, addrA, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "expired screening is fetched again")
}

func TestLiveClient_MemoSweepsExpiredEntries(t *testing.T) {
	c := newTestLive(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < memoSweepAt; i++ {
		_, err := c.Assess(ctx, fmt.Sprintf("0x%040x", i), "ethereum")
		require.NoError(t, err)
	}
	c.mu.Lock()
	assert.Len(t, c.calls, memoSweepAt)
	c.mu.Unlock()

	clock = clock.Add(DefaultMemoTTL)
	_, err := c.Assess(ctx, addrA, "ethereum")
	require.NoError(t, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.calls, 1, "only the new screening survives the sweep")
}

// ── Mock client ──

func TestMockClient_Deterministic(t *testing.T) {
	ctx := context.Background()
	m := NewMockClient(42)
	for i := 0; i < 50; i++ {
		addr := fmt.Sprintf("0x%040x", i*7919)
		a1, err := m.Assess(ctx, addr, "ethereum")
		require.NoError(t, err)
		a2, err := NewMockClient(42).Assess(ctx, strings.ToUpper(addr[:2])+strings.ToUpper(addr[2:]), "ethereum")
		require.NoError(t, err)
		assert.Equal(t, a1.Score, a2.Score, "case-insensitive and stable for %s", addr)
		assert.GreaterOrEqual(t, a1.Score, 0.0)
		assert.LessOrEqual(t, a1.Score, 100.0)
		assert.Equal(t, a1.Score >= SanctionedThreshold, a1.Sanctioned)

		info, err := m.AddressInfo(ctx, addr, "ethereum")
		require.NoError(t, err)
		assert.NotEmpty(t, info.EntityName)
		assert.Contains(t, mockCategories, info.Category)
		assert.Equal(t, a1.Sanctioned, info.Sanctioned)
	}
}

func TestMockClient_SeedChangesResults(t *testing.T) {
	ctx := context.Background()
	differ := false
	for i := 0; i < 20 && !differ; i++ {
		addr := fmt.Sprintf("0x%040x", i)
		a, _ := NewMockClient(1).Assess(ctx, addr, "ethereum")
		b, _ := NewMockClient(2).Assess(ctx, addr, "ethereum")
		differ = a.Score != b.Score
	}
	assert.True(t, differ)
}

// ── Redis cache ──

type countingClient struct {
	infoCalls   atomic.Int32
	assessCalls atomic.Int32
	inner       Client
}

func (c *countingClient) Unwrap() Client { return c.inner }

func (c *countingClient) AddressInfo(ctx context.Context, address, chain string) (*AddressInfo, error) {
	c.infoCalls.Add(1)
	return c.inner.AddressInfo(ctx, address, chain)
}

func (c *countingClient) Assess(ctx context.Context, address, chain string) (*Assessment, error) {
	c.assessCalls.Add(1)
	return c.inner.Assess(ctx, address, chain)
}

func setupCache(t *testing.T) (*RedisCache, *countingClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	inner := &countingClient{inner: NewMockClient(42)}
	cache, err := NewRedisCache(context.Background(), RedisOptions{Addr: mr.Addr(), TTL: time.Hour}, inner, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, inner, mr
}

func TestRedisCache_HitAvoidsWrappedClient(t *testing.T) {
	cache, inner, mr := setupCache(t)
	ctx := context.Background()

	first, err := cache.Assess(ctx, addrA, "Ethereum")
	require.NoError(t, err)
	second, err := cache.Assess(ctx, addrA, "ethereum")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.assessCalls.Load())

	key := "risk:assessment:ethereum:" + addrA
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	var stored Assessment
	raw, err := mr.Get(key)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, first.Score, stored.Score)

	_, err = cache.AddressInfo(ctx, addrA, "ethereum")
	require.NoError(t, err)
	_, err = cache.AddressInfo(ctx, addrA, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.infoCalls.Load())
	assert.Equal(t, ModeMock, ModeOf(cache))
}

// bareClient reports no mode and wraps nothing.
type bareClient struct{ Client }

func TestModeOf_UnwrapsDecorators(t *testing.T) {
	mock := NewMockClient(1)
	live := NewLiveClient(LiveOptions{URL: "http://127.0.0.1:0"})

	assert.Equal(t, ModeMock, ModeOf(mock))
	assert.Equal(t, ModeLive, ModeOf(live))
	assert.Equal(t, ModeMock, ModeOf(&countingClient{inner: mock}))
	assert.Equal(t, ModeLive, ModeOf(&countingClient{inner: &countingClient{inner: live}}))
	assert.Equal(t, ModeUnknown, ModeOf(bareClient{mock}), "undeclared decorators are not assumed live")
	assert.Equal(t, ModeUnknown, ModeOf(nil))
}

func TestRedisCache_DegradesWhenRedisFails(t *testing.T) {
	cache, inner, mr := setupCache(t)
	mr.Close()

	a, err := cache.Assess(context.Background(), addrA, "ethereum")
	require.NoError(t, err)
	assert.NotNil(t, a)
	assert.Equal(t, int32(1), inner.assessCalls.Load())
}

func TestRedisCache_CorruptEntryRefetches(t *testing.T) {
	cache, inner, mr := setupCache(t)
	require.NoError(t, mr.Set("risk:info:ethereum:"+addrA, "{broken"))

	info, err := cache.AddressInfo(context.Background(), addrA, "ethereum")
	require.NoError(t, err)
	assert.NotEmpty(t, info.EntityName)
	assert.Equal(t, int32(1), inner.infoCalls.Load())
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisOptions{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, NewMockClient(1), nil)
	assert.Error(t, err)
}

// ── Selection ──

func TestNew_SelectsClient(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Enrichment

	c, closeFn, err := New(ctx, cfg, config.Credentials{AgentKey: "a"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)
	assert.Equal(t, ModeMock, ModeOf(c))
	assert.NoError(t, closeFn())

	c, _, err = New(ctx, cfg, config.Credentials{AgentKey: "a", RiskKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LiveClient{}, c)
	assert.Equal(t, ModeLive, ModeOf(c))

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	c, closeFn, err = New(ctx, cfg, config.Credentials{AgentKey: "a"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, c)
	assert.Equal(t, ModeMock, ModeOf(c))
	assert.NoError(t, closeFn())
}

// ── Enricher ──

// scriptedClient scores addresses from a table and fails listed ones.
type scriptedClient struct {
	mu     sync.Mutex
	scores map[string]float64
	fail   map[string]error
	seen   []string
}

func (s *scriptedClient) AddressInfo(_ context.Context, address, chain string) (*AddressInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, address)
	if err := s.fail[address]; err != nil {
		return nil, err
	}
	return &AddressInfo{Address: address, Chain: chain, EntityName: "Entity " + address[:6], Category: "exchange"}, nil
}

func (s *scriptedClient) Assess(_ context.Context, address, chain string) (*Assessment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[address]; err != nil {
		return nil, err
	}
	return &Assessment{Address: address, Chain: chain, Score: s.scores[address]}, nil
}

func threeNodeGraph() *graph.Graph {
	g := graph.New()
	g.EnsureNode("0xaaa1", "ethereum", graph.RoleSeed, 0)
	g.EnsureNode("0xbbb2", "ethereum", graph.RoleSeed, 0)
	g.AddTransfer(graph.Transfer{Hash: "0x1", From: "0xaaa1", To: "0xccc3", Amount: 5, Chain: "ethereum"}, 1)
	return g
}

func TestEnrich_OneTimeoutMarksOnlyThatNodeUnknown(t *testing.T) {
	g := threeNodeGraph()
	client := &scriptedClient{
		scores: map[string]float64{"0xaaa1": 10, "0xccc3": 80},
		fail:   map[string]error{"0xbbb2": fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)},
	}
	st := NewEnricher(client, 3, 0, nil).Enrich(context.Background(), g)

	assert.Equal(t, Stats{Scored: 2, Unknown: 1}, st)

	bad := g.Node("0xbbb2")
	assert.Equal(t, graph.StatusUnknown, bad.Risk.Status)
	assert.Nil(t, bad.Risk.Score)
	assert.Equal(t, graph.LevelUnknown, bad.Risk.Level)
	assert.Contains(t, bad.Risk.Error, "deadline exceeded")

	a := g.Node("0xaaa1")
	require.NotNil(t, a.Risk.Score)
	assert.Equal(t, graph.StatusScored, a.Risk.Status)
	assert.Equal(t, graph.LevelLow, a.Risk.Level)
	assert.Equal(t, "Entity 0xaaa1", a.Risk.Label)

	c := g.Node("0xccc3")
	assert.Equal(t, graph.LevelHigh, c.Risk.Level)
}

func TestEnrich_SequentialMatchesParallel(t *testing.T) {
	run := func(workers int) []graph.Risk {
		g := threeNodeGraph()
		NewEnricher(NewMockClient(42), workers, 0, nil).Enrich(context.Background(), g)
		var out []graph.Risk
		for _, n := range g.Nodes() {
			out = append(out, n.Risk)
		}
		return out
	}
	assert.Equal(t, run(1), run(4))
}

func TestEnrich_CapSkipsLowPriorityNodes(t *testing.T) {
	g := threeNodeGraph()
	g.AddTransfer(graph.Transfer{Hash: "0x2", From: "0xbbb2", To: "0xddd4", Amount: 50, Chain: "ethereum"}, 1)
	client := &scriptedClient{scores: map[string]float64{}}

	st := NewEnricher(client, 1, 3, nil).Enrich(context.Background(), g)
	assert.Equal(t, Stats{Scored: 3, Skipped: 1}, st)
	assert.Equal(t, []string{"0xaaa1", "0xbbb2", "0xddd4"}, client.seen, "seeds first, then by volume")
	assert.Equal(t, graph.StatusSkipped, g.Node("0xccc3").Risk.Status)
}

func TestEnrichPrioritized_PriorityBeforeVolume(t *testing.T) {
	g := threeNodeGraph()
	g.AddTransfer(graph.Transfer{Hash: "0x2", From: "0xbbb2", To: "0xddd4", Amount: 50, Chain: "ethereum"}, 1)
	client := &scriptedClient{scores: map[string]float64{}}

	NewEnricher(client, 1, 3, nil).EnrichPrioritized(context.Background(), g, []string{"0xCCC3"})
	assert.Equal(t, []string{"0xaaa1", "0xbbb2", "0xccc3"}, client.seen)
	assert.Equal(t, graph.StatusSkipped, g.Node("0xddd4").Risk.Status)
}

func TestToRisk(t *testing.T) {
	r := ToRisk(&AddressInfo{EntityName: "", Category: "mixer", Sanctioned: true}, &Assessment{Score: 120})
	require.NotNil(t, r.Score)
	assert.Equal(t, 100.0, *r.Score)
	assert.Equal(t, graph.LevelHigh, r.Level)
	assert.Equal(t, "Unknown Entity", r.Label)
	assert.Equal(t, "mixer", r.Category)
	assert.True(t, r.Sanctioned)
	assert.Equal(t, graph.StatusScored, r.Status)
}

func TestErrUnavailableWrapping(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
