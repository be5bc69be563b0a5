package orchestrator

import (
	"context"

	"github.com/chainsafe/usdc-hopper/pkg/bridge"
	"github.com/chainsafe/usdc-hopper/pkg/quote"
	"github.com/chainsafe/usdc-hopper/pkg/wallet"
)

// MockEngine is a mock implementation of bridge.Engine
type MockEngine struct {
	BridgeFunc func(ctx context.Context, params bridge.Params) (*bridge.Result, error)
}

func (m *MockEngine) Bridge(ctx context.Context, params bridge.Params) (*bridge.Result, error) {
	if m.BridgeFunc != nil {
		return m.BridgeFunc(ctx, params)
	}
	return &bridge.Result{State: bridge.StateSuccess}, nil
}

// MockSigner is a mock implementation of wallet.Signer
type MockSigner struct {
	ProviderFunc func(ctx context.Context) (wallet.Provider, error)
}

func (m *MockSigner) Provider(ctx context.Context) (wallet.Provider, error) {
	if m.ProviderFunc != nil {
		return m.ProviderFunc(ctx)
	}
	return nil, wallet.ErrNotConnected
}

// MockQuoter is a mock implementation of quote.Quoter
type MockQuoter struct {
	QuoteFunc func(ctx context.Context, p quote.Params) *quote.Quote
}

func (m *MockQuoter) Quote(ctx context.Context, p quote.Params) *quote.Quote {
	if m.QuoteFunc != nil {
		return m.QuoteFunc(ctx, p)
	}
	return nil
}
