package explorer

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"math/rand"
	"strings"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
)

const (
	mockNormalCount = 10
	mockTokenCount  = 5
	mockBaseTime    = 1700000000
	mockBaseBlock   = 20000000
)

var mockTokens = []string{"USDT", "USDC", "DAI", "WETH", "BUSD"}

// MockSource generates plausible transfers without network access.
// Output depends only on (seed, chain, address, kind), so repeated runs
// build the same graph.
type MockSource struct {
	seed int64
}

// NewMockSource creates a MockSource.
func NewMockSource(seed int64) *MockSource {
	return &MockSource{seed: seed}
}

// NormalTransfers returns native-currency transfers in and out of address.
func (m *MockSource) NormalTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := m.stream(chain, address, KindNormal)
	self := graph.NormalizeAddress(address)
	symbol := NativeSymbol(chain)

	out := make([]graph.Transfer, 0, mockNormalCount)
	for i := 0; i < mockNormalCount; i++ {
		other := randomAddress(r)
		from, to := self, other
		if r.Float64() > 0.5 {
			from, to = other, self
		}
		out = append(out, graph.Transfer{
			Hash:        randomHash(r),
			From:        from,
			To:          to,
			Amount:      0.001 + r.Float64()*9.999,
			Token:       symbol,
			Timestamp:   mockBaseTime + int64(i)*86400,
			BlockNumber: mockBaseBlock + int64(i)*1000,
			Chain:       strings.ToLower(chain),
		})
	}
	metrics.ExplorerRequests.WithLabelValues("mock", "ok").Inc()
	return truncate(out, limit), nil
}

// TokenTransfers returns ERC-20 style transfers in and out of address.
func (m *MockSource) TokenTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := m.stream(chain, address, KindToken)
	self := graph.NormalizeAddress(address)

	out := make([]graph.Transfer, 0, mockTokenCount)
	for i := 0; i < mockTokenCount; i++ {
		other := randomAddress(r)
		contract := randomAddress(r)
		from, to := self, other
		if r.Float64() > 0.5 {
			from, to = other, self
		}
		out = append(out, graph.Transfer{
			Hash:        randomHash(r),
			From:        from,
			To:          to,
			Amount:      1 + r.Float64()*999,
			Token:       mockTokens[r.Intn(len(mockTokens))],
			Timestamp:   mockBaseTime + int64(i)*86400,
			BlockNumber: mockBaseBlock + int64(i)*1000,
			Chain:       strings.ToLower(chain),
			IsToken:     true,
			Contract:    contract,
		})
	}
	metrics.ExplorerRequests.WithLabelValues("mock", "ok").Inc()
	return truncate(out, limit), nil
}

// stream returns a generator seeded from the mock seed and the lookup key.
func (m *MockSource) stream(chain, address string, kind Kind) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(chain) + "|" + graph.NormalizeAddress(address) + "|" + string(kind)))
	return rand.New(rand.NewSource(int64(h.Sum64()) ^ m.seed))
}

func randomAddress(r *rand.Rand) string {
	b := make([]byte, 20)
	_, _ = r.Read(b)
	return "0x" + hex.EncodeToString(b)
}

func randomHash(r *rand.Rand) string {
	b := make([]byte, 32)
	_, _ = r.Read(b)
	return "0x" + hex.EncodeToString(b)
}
