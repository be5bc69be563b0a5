// Package rpcengine talks to a bridging sidecar over JSON-RPC 2.0.
package rpcengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ybbus/jsonrpc"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/bridge"
)

// MethodExecute is the sidecar method that runs a transfer.
const MethodExecute = "bridge_execute"

type endpoint struct {
	Chain            string `json:"chain"`
	Address          string `json:"address"`
	RecipientAddress string `json:"recipientAddress,omitempty"`
}

type executeConfig struct {
	TransferSpeed string `json:"transferSpeed,omitempty"`
}

type executeRequest struct {
	From          endpoint              `json:"from"`
	To            endpoint              `json:"to"`
	Amount        string                `json:"amount"`
	Config        executeConfig         `json:"config"`
	Authorization *bridge.Authorization `json:"authorization"`
}

// Client implements bridge.Engine
type Client struct {
	rpc    jsonrpc.RPCClient
	logger *zap.Logger
}

type options struct {
	jwt bool
}

// Option configures a Client
type Option func(*options)

// WithJWTAuth treats the api key as an HS256 secret and sends a freshly
// signed token with every request instead of the raw key.
func WithJWTAuth() Option {
	return func(o *options) { o.jwt = true }
}

// New creates a client for the sidecar at url. apiKey, when set, is sent as
// a bearer token.
func New(url, apiKey string, logger *zap.Logger, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	rpcOpts := &jsonrpc.RPCClientOpts{HTTPClient: &http.Client{}}
	switch {
	case apiKey == "":
	case o.jwt:
		rpcOpts.HTTPClient.Transport = &jwtTransport{secret: []byte(apiKey), now: time.Now}
	default:
		rpcOpts.CustomHeaders = map[string]string{"Authorization": "Bearer " + apiKey}
	}
	return &Client{
		rpc:    jsonrpc.NewClientWithOpts(url, rpcOpts),
		logger: logger,
	}
}

// Bridge signs the request with the source adapter and submits it. An engine
// reporting state "error" is a result; transport and RPC failures are errors.
// The call is abandoned, not aborted, when ctx is done.
func (c *Client) Bridge(ctx context.Context, p bridge.Params) (*bridge.Result, error) {
	if p.From.Adapter == nil {
		return nil, errors.New("source adapter is required")
	}
	auth, err := p.From.Adapter.Authorize(ctx, p)
	if err != nil {
		return nil, err
	}

	to := endpoint{Chain: p.To.Chain, RecipientAddress: p.To.Recipient}
	if p.To.Adapter != nil {
		to.Address = p.To.Adapter.Address().Hex()
	}
	req := executeRequest{
		From:          endpoint{Chain: p.From.Chain, Address: p.From.Adapter.Address().Hex()},
		To:            to,
		Amount:        p.Amount,
		Config:        executeConfig{TransferSpeed: p.Config.TransferSpeed},
		Authorization: auth,
	}

	type outcome struct {
		resp *jsonrpc.RPCResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.rpc.Call(MethodExecute, req)
		done <- outcome{resp, err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out = <-done:
	}

	if out.err != nil {
		return nil, fmt.Errorf("%s call failed: %w", MethodExecute, out.err)
	}
	if out.resp.Error != nil {
		return nil, fmt.Errorf("%s returned error %d: %s", MethodExecute, out.resp.Error.Code, out.resp.Error.Message)
	}

	var raw bridge.RawResult
	if err := out.resp.GetObject(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", MethodExecute, err)
	}

	c.logger.Debug("Bridge engine returned",
		zap.String("state", raw.State),
		zap.Int("steps", len(raw.Steps)))
	return bridge.Normalize(&raw), nil
}
