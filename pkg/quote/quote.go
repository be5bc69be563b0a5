// Package quote fetches display-only pricing for a route and falls back to a
// local estimate whenever the pricing service cannot answer.
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/internal/metrics"
	"github.com/chainsafe/usdc-hopper/pkg/network"
)

// FallbackProvider names quotes computed locally.
const FallbackProvider = "Arc SDK (simulated)"

// Params identifies the route being priced
type Params struct {
	FromNetworkID string `json:"fromNetworkId"`
	ToNetworkID   string `json:"toNetworkId"`
	FromChainID   uint64 `json:"fromChainId"`
	ToChainID     uint64 `json:"toChainId"`
	Amount        string `json:"amount"`
	Wallet        string `json:"wallet,omitempty"`
}

// BreakdownEntry is one fee line
type BreakdownEntry struct {
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

// Quote is a priced route
type Quote struct {
	RouteID    string           `json:"routeId"`
	Provider   string           `json:"provider"`
	AmountIn   string           `json:"amountIn"`
	AmountOut  string           `json:"amountOut"`
	FeeAmount  string           `json:"feeAmount"`
	ETASeconds int              `json:"etaSeconds"`
	Breakdown  []BreakdownEntry `json:"breakdown"`
	Fallback   bool             `json:"fallback"`
}

// Quoter prices routes. It never fails; errors degrade to an estimate.
type Quoter interface {
	Quote(ctx context.Context, p Params) *Quote
}

// Client calls the pricing service
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a pricing client. timeout bounds each request.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

type quoteRequest struct {
	FromChainID uint64 `json:"fromChainId"`
	ToChainID   uint64 `json:"toChainId"`
	Amount      string `json:"amount"`
	Wallet      string `json:"wallet"`
}

type wireFee struct {
	Label  string `json:"label"`
	Type   string `json:"type"`
	Amount string `json:"amount"`
}

// wireQuote accepts the field aliases different service versions return.
type wireQuote struct {
	RouteID          string           `json:"routeId"`
	ID               string           `json:"id"`
	Provider         string           `json:"provider"`
	AmountIn         string           `json:"amountIn"`
	AmountOut        string           `json:"amountOut"`
	Fee              string           `json:"fee"`
	FeeAmount        string           `json:"feeAmount"`
	ETASeconds       *int             `json:"etaSeconds"`
	EstimatedSeconds *int             `json:"estimatedSeconds"`
	Breakdown        []BreakdownEntry `json:"breakdown"`
	Fees             []wireFee        `json:"fees"`
}

// Quote asks the pricing service and falls back to Estimate on any failure.
func (c *Client) Quote(ctx context.Context, p Params) *Quote {
	q, err := c.fetch(ctx, p)
	if err != nil {
		metrics.QuoteFallbacks.Inc()
		c.logger.Warn("Falling back to heuristic quote",
			zap.String("from", p.FromNetworkID),
			zap.String("to", p.ToNetworkID),
			zap.Error(err))
		return Estimate(p, c.now())
	}
	return q
}

func (c *Client) fetch(ctx context.Context, p Params) (*Quote, error) {
	body, err := json.Marshal(quoteRequest{
		FromChainID: p.FromChainID,
		ToChainID:   p.ToChainID,
		Amount:      p.Amount,
		Wallet:      p.Wallet,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("quote failed: %s", resp.Status)
	}

	var w wireQuote
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	return w.toQuote(p), nil
}

func (w *wireQuote) toQuote(p Params) *Quote {
	q := &Quote{
		RouteID:    firstNonEmpty(w.RouteID, w.ID, uuid.NewString()),
		Provider:   firstNonEmpty(w.Provider, "Arc Router"),
		AmountIn:   firstNonEmpty(w.AmountIn, p.Amount),
		AmountOut:  firstNonEmpty(w.AmountOut, p.Amount),
		FeeAmount:  firstNonEmpty(w.Fee, w.FeeAmount, "0"),
		ETASeconds: 120,
		Breakdown:  w.Breakdown,
	}
	switch {
	case w.ETASeconds != nil:
		q.ETASeconds = *w.ETASeconds
	case w.EstimatedSeconds != nil:
		q.ETASeconds = *w.EstimatedSeconds
	}
	if q.Breakdown == nil {
		for _, f := range w.Fees {
			q.Breakdown = append(q.Breakdown, BreakdownEntry{
				Label:  firstNonEmpty(f.Label, f.Type, "Fee"),
				Amount: firstNonEmpty(f.Amount, "0"),
			})
		}
	}
	if q.Breakdown == nil {
		q.Breakdown = []BreakdownEntry{}
	}
	return q
}

// Estimate is the local heuristic: a flat fee in basis points depending on
// the source network and a fixed ETA per route shape.
func Estimate(p Params, now time.Time) *Quote {
	amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
	if err != nil {
		amount = decimal.Zero
	}

	feeBps := int64(8)
	if p.FromNetworkID == network.EthereumSepolia {
		feeBps = 12
	}
	fee := amount.Mul(decimal.NewFromInt(feeBps)).Div(decimal.NewFromInt(10_000)).Round(4)
	out := decimal.Max(amount.Sub(fee), decimal.Zero)

	eta := 150
	switch {
	case p.ToNetworkID == network.ArcTestnet:
		eta = 75
	case p.FromNetworkID == network.ArcTestnet:
		eta = 65
	}

	feeStr := fee.StringFixed(4)
	return &Quote{
		RouteID:    fmt.Sprintf("fallback-%d", now.UnixMilli()),
		Provider:   FallbackProvider,
		AmountIn:   p.Amount,
		AmountOut:  out.StringFixed(4),
		FeeAmount:  feeStr,
		ETASeconds: eta,
		Breakdown:  []BreakdownEntry{{Label: "Estimated relayer fee", Amount: feeStr}},
		Fallback:   true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
