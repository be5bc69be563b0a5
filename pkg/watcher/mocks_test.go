package watcher

import (
	"context"
	"sync"

	"github.com/chainsafe/usdc-hopper/pkg/chainclient"
)

// MockReceiptClient is a mock implementation of ReceiptClient
type MockReceiptClient struct {
	GetReceiptFunc func(ctx context.Context, chainID uint64, txHash string) (chainclient.ReceiptStatus, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockReceiptClient) GetReceipt(ctx context.Context, chainID uint64, txHash string) (chainclient.ReceiptStatus, error) {
	m.mu.Lock()
	m.calls = append(m.calls, txHash)
	m.mu.Unlock()
	if m.GetReceiptFunc != nil {
		return m.GetReceiptFunc(ctx, chainID, txHash)
	}
	return chainclient.ReceiptNotFound, nil
}

func (m *MockReceiptClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
