package quote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/network"
)

func TestEstimate(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)

	tests := []struct {
		name     string
		params   Params
		fee      string
		out      string
		eta      int
		routeID  string
		provider string
	}{
		{
			name:   "sepolia to arc",
			params: Params{FromNetworkID: network.EthereumSepolia, ToNetworkID: network.ArcTestnet, Amount: "100"},
			fee:    "0.1200", out: "99.8800", eta: 75,
		},
		{
			name:   "arc to base",
			params: Params{FromNetworkID: network.ArcTestnet, ToNetworkID: network.BaseSepolia, Amount: "10"},
			fee:    "0.0080", out: "9.9920", eta: 65,
		},
		{
			name:   "base to sepolia",
			params: Params{FromNetworkID: network.BaseSepolia, ToNetworkID: network.EthereumSepolia, Amount: "1"},
			fee:    "0.0008", out: "0.9992", eta: 150,
		},
		{
			name:   "unparseable amount",
			params: Params{FromNetworkID: network.BaseSepolia, ToNetworkID: network.ArcTestnet, Amount: "abc"},
			fee:    "0.0000", out: "0.0000", eta: 75,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := Estimate(tc.params, now)
			assert.Equal(t, tc.fee, q.FeeAmount)
			assert.Equal(t, tc.out, q.AmountOut)
			assert.Equal(t, tc.eta, q.ETASeconds)
			assert.Equal(t, "fallback-1700000000123", q.RouteID)
			assert.Equal(t, FallbackProvider, q.Provider)
			assert.True(t, q.Fallback)
			require.Len(t, q.Breakdown, 1)
			assert.Equal(t, tc.fee, q.Breakdown[0].Amount)
		})
	}
}

func TestClient_QuoteDecodesAliases(t *testing.T) {
	var gotReq quoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{"id":"r-1","feeAmount":"0.5","estimatedSeconds":42,"amountOut":"9.5",
			"fees":[{"type":"gas","amount":"0.3"},{"label":"relayer"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "k", time.Second, zap.NewNop())
	q := c.Quote(context.Background(), Params{FromChainID: 84532, ToChainID: 5042002, Amount: "10", Wallet: "0xabc"})

	assert.Equal(t, uint64(84532), gotReq.FromChainID)
	assert.Equal(t, "0xabc", gotReq.Wallet)

	assert.Equal(t, "r-1", q.RouteID)
	assert.Equal(t, "Arc Router", q.Provider)
	assert.Equal(t, "10", q.AmountIn)
	assert.Equal(t, "9.5", q.AmountOut)
	assert.Equal(t, "0.5", q.FeeAmount)
	assert.Equal(t, 42, q.ETASeconds)
	assert.False(t, q.Fallback)
	assert.Equal(t, []BreakdownEntry{{Label: "gas", Amount: "0.3"}, {Label: "relayer", Amount: "0"}}, q.Breakdown)
}

func TestClient_QuoteFallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, zap.NewNop())
	q := c.Quote(context.Background(), Params{FromNetworkID: network.EthereumSepolia, ToNetworkID: network.ArcTestnet, Amount: "10"})
	assert.True(t, q.Fallback)
	assert.Equal(t, "0.0120", q.FeeAmount)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer bad.Close()

	q = NewClient(bad.URL, "", time.Second, zap.NewNop()).Quote(context.Background(), Params{Amount: "1"})
	assert.True(t, q.Fallback)
}
