package risk

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
)

// SanctionedThreshold is the mock score at or above which an address is
// reported as sanctioned.
const SanctionedThreshold = 95.0

var mockCategories = []string{
	"exchange",
	"defi protocol",
	"bridge",
	"mixer",
	"gambling",
	"scam",
	"stolen funds",
	"unattributed wallet",
}

var mockIndicators = []string{
	"counterparty exposure",
	"mixer interaction",
	"rapid fund movement",
	"peel chain",
	"high-risk jurisdiction",
}

// MockClient fabricates stable risk data. Results depend only on the
// lower-cased address and the seed.
type MockClient struct {
	seed int64
}

// NewMockClient creates a MockClient.
func NewMockClient(seed int64) *MockClient {
	return &MockClient{seed: seed}
}

// Mode implements Moder.
func (m *MockClient) Mode() Mode { return ModeMock }

type mockProfile struct {
	score      float64
	category   string
	label      string
	indicators []string
}

func (m *MockClient) profile(address string) mockProfile {
	addr := strings.ToLower(strings.TrimSpace(address))
	h := fnv.New64a()
	_, _ = h.Write([]byte(addr))
	r := rand.New(rand.NewSource(int64(h.Sum64()) ^ m.seed))

	score := math.Round(r.Float64()*1000) / 10
	category := mockCategories[r.Intn(len(mockCategories))]

	var indicators []string
	if score > graph.MediumUpperBound {
		n := 1 + r.Intn(3)
		for _, i := range r.Perm(len(mockIndicators))[:n] {
			indicators = append(indicators, mockIndicators[i])
		}
	}
	return mockProfile{
		score:      graph.ClampScore(score),
		category:   category,
		label:      fmt.Sprintf("%s %s", titleCase(category), shortAddr(addr)),
		indicators: indicators,
	}
}

// AddressInfo returns mock attribution.
func (m *MockClient) AddressInfo(ctx context.Context, address, chain string) (*AddressInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	p := m.profile(address)
	metrics.RiskLookups.WithLabelValues(string(ModeMock), "ok").Inc()
	return &AddressInfo{
		Address:    address,
		Chain:      chain,
		EntityName: p.label,
		Category:   p.category,
		Labels:     []string{p.category},
		Sanctioned: p.score >= SanctionedThreshold,
	}, nil
}

// Assess returns a mock score in [0, 100].
func (m *MockClient) Assess(ctx context.Context, address, chain string) (*Assessment, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	p := m.profile(address)
	metrics.RiskLookups.WithLabelValues(string(ModeMock), "ok").Inc()
	return &Assessment{
		Address:    address,
		Chain:      chain,
		Score:      p.score,
		Sanctioned: p.score >= SanctionedThreshold,
		Indicators: p.indicators,
	}, nil
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
