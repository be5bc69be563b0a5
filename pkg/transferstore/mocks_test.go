package transferstore_test

import (
	"context"

	"github.com/chainsafe/usdc-hopper/pkg/transferstore/memstore"
)

// MockBackend is a memstore whose reads can be overridden.
type MockBackend struct {
	*memstore.Store
	GetFunc func(ctx context.Context, key string) ([]byte, error)
}

func (m *MockBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return m.Store.Get(ctx, key)
}
