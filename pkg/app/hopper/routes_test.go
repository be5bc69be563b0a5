package hopper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/usdc-hopper/pkg/app/errors"
	"github.com/chainsafe/usdc-hopper/pkg/network"
	"github.com/chainsafe/usdc-hopper/pkg/orchestrator"
	"github.com/chainsafe/usdc-hopper/pkg/quote"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/memstore"
)

type testEnv struct {
	store   *transferstore.Store
	orch    *MockOrchestrator
	watcher *MockWatcher
	quoter  *MockQuoter
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry, err := network.NewStaticRegistry(nil)
	require.NoError(t, err)

	env := &testEnv{
		store:   transferstore.New(memstore.New(), zap.NewNop()),
		orch:    &MockOrchestrator{},
		watcher: &MockWatcher{},
		quoter:  &MockQuoter{},
	}
	h := &Handler{
		Store:        env.store,
		Orchestrator: env.orch,
		Watcher:      env.watcher,
		Quoter:       env.quoter,
		Registry:     registry,
		Logger:       zap.NewNop(),
	}
	env.server = httptest.NewServer(NewRouter(h, true))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").StatusCode)

	env.do(t, http.MethodGet, "/api/v1/networks", "")
	resp := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListNetworks(t *testing.T) {
	env := newTestEnv(t)
	var body struct {
		Networks []network.Network `json:"networks"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/networks", ""), &body)
	require.Len(t, body.Networks, 3)
	assert.Equal(t, network.EthereumSepolia, body.Networks[0].ID)
}

func TestTransfersLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var list transfersResponse
	decode(t, env.do(t, http.MethodGet, "/api/v1/transfers", ""), &list)
	assert.Empty(t, list.Transfers)

	tr := transfer.New("t-1", network.EthereumSepolia, network.ArcTestnet, 11155111, 5042002, "5", time.Now().UTC())
	require.NoError(t, env.store.Upsert(ctx, tr))

	decode(t, env.do(t, http.MethodGet, "/api/v1/transfers", ""), &list)
	require.Len(t, list.Transfers, 1)
	assert.Equal(t, "t-1", list.Transfers[0].ID)

	var got transfer.Transfer
	decode(t, env.do(t, http.MethodGet, "/api/v1/transfers/t-1", ""), &got)
	assert.Equal(t, "5", got.Amount)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/transfers/nope", "").StatusCode)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/transfers", "").StatusCode)
	assert.Empty(t, env.store.Load(ctx))
}

func TestExecute(t *testing.T) {
	env := newTestEnv(t)

	var got orchestrator.Request
	env.orch.ExecuteFunc = func(ctx context.Context, req orchestrator.Request) (string, error) {
		got = req
		return "t-9", nil
	}

	resp := env.do(t, http.MethodPost, "/api/v1/transfers",
		`{"fromNetworkId":"base-sepolia","toNetworkId":"arc-testnet","amount":"2.5"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body executeResponse
	decode(t, resp, &body)
	assert.Equal(t, "t-9", body.ID)
	assert.Equal(t, "2.5", got.Amount)
	assert.Equal(t, network.BaseSepolia, got.FromNetworkID)
}

func TestExecute_Errors(t *testing.T) {
	env := newTestEnv(t)

	env.orch.ExecuteFunc = func(context.Context, orchestrator.Request) (string, error) {
		return "", apperrors.BadRequestError(nil, orchestrator.MsgInvalidAmount)
	}
	resp := env.do(t, http.MethodPost, "/api/v1/transfers", `{"fromNetworkId":"a","toNetworkId":"b","amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	assert.Equal(t, orchestrator.MsgInvalidAmount, body.Error)

	env.orch.ExecuteFunc = func(context.Context, orchestrator.Request) (string, error) {
		return "t-1", apperrors.DependencyError(errors.New("down"), orchestrator.MsgBridgeFailed)
	}
	resp = env.do(t, http.MethodPost, "/api/v1/transfers", `{"fromNetworkId":"a","toNetworkId":"b","amount":"1"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/transfers", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestForceCheck(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.watcher.ForceCheckFunc = func(context.Context) error {
		called = true
		return nil
	}
	resp := env.do(t, http.MethodPost, "/api/v1/transfers/check", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, called)
}

func TestBridgeStateAndReset(t *testing.T) {
	env := newTestEnv(t)
	phase := orchestrator.PhaseError
	env.orch.StateFunc = func() orchestrator.State { return orchestrator.State{Phase: phase, Message: "boom"} }
	env.orch.ResetFunc = func() { phase = orchestrator.PhaseIdle }

	var state orchestrator.State
	decode(t, env.do(t, http.MethodGet, "/api/v1/bridge/state", ""), &state)
	assert.Equal(t, orchestrator.PhaseError, state.Phase)

	decode(t, env.do(t, http.MethodPost, "/api/v1/bridge/reset", ""), &state)
	assert.Equal(t, orchestrator.PhaseIdle, state.Phase)
}

func TestPreferences(t *testing.T) {
	env := newTestEnv(t)

	var prefs transfer.NetworkPreferences
	decode(t, env.do(t, http.MethodGet, "/api/v1/preferences", ""), &prefs)
	assert.Equal(t, network.DefaultFromNetworkID, prefs.FromNetworkID)
	assert.Equal(t, network.DefaultToNetworkID, prefs.ToNetworkID)

	resp := env.do(t, http.MethodPut, "/api/v1/preferences", `{"fromNetworkId":"arc-testnet","toNetworkId":"base-sepolia"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decode(t, env.do(t, http.MethodGet, "/api/v1/preferences", ""), &prefs)
	assert.Equal(t, network.ArcTestnet, prefs.FromNetworkID)
	assert.Equal(t, network.BaseSepolia, prefs.ToNetworkID)

	resp = env.do(t, http.MethodPut, "/api/v1/preferences", `{"fromNetworkId":"arc-testnet","toNetworkId":"arc-testnet"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/v1/preferences", `{"fromNetworkId":"arc-testnet","toNetworkId":"mainnet"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)
	env.quoter.QuoteFunc = func(_ context.Context, p quote.Params) *quote.Quote {
		assert.Equal(t, uint64(84532), p.FromChainID)
		assert.Equal(t, uint64(11155111), p.ToChainID)
		return quote.Estimate(p, time.UnixMilli(1))
	}

	resp := env.do(t, http.MethodPost, "/api/v1/quote", `{"fromNetworkId":"base-sepolia","toNetworkId":"ethereum-sepolia","amount":"100"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var q quote.Quote
	decode(t, resp, &q)
	assert.Equal(t, "0.0800", q.FeeAmount)
	assert.Equal(t, 150, q.ETASeconds)
}
