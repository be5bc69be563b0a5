package hopper

import (
	"context"

	"github.com/chainsafe/usdc-hopper/pkg/orchestrator"
	"github.com/chainsafe/usdc-hopper/pkg/quote"
)

// MockOrchestrator is a mock implementation of Orchestrator
type MockOrchestrator struct {
	ExecuteFunc func(ctx context.Context, req orchestrator.Request) (string, error)
	ResetFunc   func()
	StateFunc   func() orchestrator.State
}

func (m *MockOrchestrator) Execute(ctx context.Context, req orchestrator.Request) (string, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return "", nil
}

func (m *MockOrchestrator) Reset() {
	if m.ResetFunc != nil {
		m.ResetFunc()
	}
}

func (m *MockOrchestrator) State() orchestrator.State {
	if m.StateFunc != nil {
		return m.StateFunc()
	}
	return orchestrator.State{Phase: orchestrator.PhaseIdle}
}

// MockWatcher is a mock implementation of Watcher
type MockWatcher struct {
	ForceCheckFunc func(ctx context.Context) error
}

func (m *MockWatcher) ForceCheck(ctx context.Context) error {
	if m.ForceCheckFunc != nil {
		return m.ForceCheckFunc(ctx)
	}
	return nil
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
