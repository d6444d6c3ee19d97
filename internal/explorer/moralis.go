package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gyaneshwarpardhi/incidentviz/internal/graph"
	"github.com/gyaneshwarpardhi/incidentviz/internal/metrics"
	"github.com/gyaneshwarpardhi/incidentviz/internal/retry"
)

// maxPageSize is the largest page the Moralis API returns.
const maxPageSize = 100

// maxDecimals bounds token decimals; 10^77 is the largest power of ten
// that fits in a uint256.
const maxDecimals = 77

// MoralisOptions configures a MoralisClient.
type MoralisOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// MoralisClient reads wallet history from the Moralis Web3 Data API.
type MoralisClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger
}

// NewMoralisClient creates a client. Every request waits on a shared rate
// limiter and is retried on transient failures.
func NewMoralisClient(opts MoralisOptions) *MoralisClient {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	c := &MoralisClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  opts.Logger,
	}
	c.policy = retry.Policy{
		MaxAttempts: opts.MaxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      100 * time.Millisecond,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			c.logger.Warn("moralis request failed, retrying", "attempt", attempt, "wait", wait, "err", err)
		},
	}
	return c
}

// NormalTransfers returns native-currency transactions of address.
func (c *MoralisClient) NormalTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error) {
	var page moralisPage[nativeTx]
	if err := c.get(ctx, chain, "/"+url.PathEscape(address), limit, &page); err != nil {
		return nil, fmt.Errorf("moralis normal transfers %s: %w", address, err)
	}
	symbol := NativeSymbol(chain)
	out := make([]graph.Transfer, 0, len(page.Result))
	for _, tx := range truncate(page.Result, limit) {
		out = append(out, graph.Transfer{
			Hash:        tx.Hash,
			From:        strings.ToLower(tx.FromAddress),
			To:          strings.ToLower(tx.ToAddress),
			Amount:      ScaleAmount(string(tx.Value), 18),
			Token:       symbol,
			Timestamp:   parseTimestamp(tx.BlockTimestamp),
			BlockNumber: parseInt(string(tx.BlockNumber)),
			Chain:       strings.ToLower(chain),
		})
	}
	return out, nil
}

// TokenTransfers returns ERC-20 transfers of address.
func (c *MoralisClient) TokenTransfers(ctx context.Context, chain, address string, limit int) ([]graph.Transfer, error) {
	var page moralisPage[tokenTx]
	if err := c.get(ctx, chain, "/"+url.PathEscape(address)+"/erc20/transfers", limit, &page); err != nil {
		return nil, fmt.Errorf("moralis token transfers %s: %w", address, err)
	}
	out := make([]graph.Transfer, 0, len(page.Result))
	for _, tx := range truncate(page.Result, limit) {
		decimals := int(parseInt(string(tx.TokenDecimals)))
		if tx.TokenDecimals == "" {
			decimals = 18
		}
		symbol := tx.TokenSymbol
		if symbol == "" {
			symbol = "UNK"
		}
		out = append(out, graph.Transfer{
			Hash:        tx.TransactionHash,
			From:        strings.ToLower(tx.FromAddress),
			To:          strings.ToLower(tx.ToAddress),
			Amount:      ScaleAmount(string(tx.Value), decimals),
			Token:       symbol,
			Timestamp:   parseTimestamp(tx.BlockTimestamp),
			BlockNumber: parseInt(string(tx.BlockNumber)),
			Chain:       strings.ToLower(chain),
			IsToken:     true,
			Contract:    strings.ToLower(tx.Address),
		})
	}
	return out, nil
}

func (c *MoralisClient) get(ctx context.Context, chain, path string, limit int, dst any) error {
	chainID, ok := ChainID(chain)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChain, chain)
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	q := url.Values{}
	q.Set("chain", chainID)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + path + "?" + q.Encode()

	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &retry.StatusError{Op: "GET " + path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ExplorerRequests.WithLabelValues("moralis", outcome).Inc()
	return err
}

type moralisPage[T any] struct {
	Result []T `json:"result"`
}

type nativeTx struct {
	Hash           string     `json:"hash"`
	FromAddress    string     `json:"from_address"`
	ToAddress      string     `json:"to_address"`
	Value          flexString `json:"value"`
	BlockTimestamp string     `json:"block_timestamp"`
	BlockNumber    flexString `json:"block_number"`
}

type tokenTx struct {
	TransactionHash string     `json:"transaction_hash"`
	Address         string     `json:"address"`
	FromAddress     string     `json:"from_address"`
	ToAddress       string     `json:"to_address"`
	Value           flexString `json:"value"`
	TokenSymbol     string     `json:"token_symbol"`
	TokenDecimals   flexString `json:"token_decimals"`
	BlockTimestamp  string     `json:"block_timestamp"`
	BlockNumber     flexString `json:"block_number"`
}

// flexString decodes a JSON string or number into its textual form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*f = flexString(v)
		return nil
	}
	*f = flexString(s)
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// ScaleAmount converts an integer base-unit amount to a float in whole
// units. Unparsable values scale to 0; decimals are clamped to
// [0, maxDecimals].
func ScaleAmount(raw string, decimals int) float64 {
	decimals = min(max(decimals, 0), maxDecimals)
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return 0
	}
	if decimals <= 0 {
		f, _ := new(big.Float).SetInt(v).Float64()
		return f
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(scale)).Float64()
	return f
}

func parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix()
	}
	return parseInt(s)
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
