package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
)

func TestFileStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested")
	s, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	_, err = s.Get(ctx, transferstore.TransfersKey)
	assert.ErrorIs(t, err, transferstore.ErrNotFound)

	require.NoError(t, s.Set(ctx, transferstore.TransfersKey, []byte(`[]`)))
	got, err := s.Get(ctx, transferstore.TransfersKey)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	_, err = os.Stat(filepath.Join(dir, "usdc-hopper_transfers.json"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, s.Delete(ctx, transferstore.TransfersKey))
	require.NoError(t, s.Delete(ctx, transferstore.TransfersKey))
	_, err = s.Get(ctx, transferstore.TransfersKey)
	assert.ErrorIs(t, err, transferstore.ErrNotFound)
}

func TestFileStore_WatchSeesOtherWriter(t *testing.T) {
	dir := t.TempDir()
	reader, err := New(dir, zap.NewNop())
	require.NoError(t, err)
	writer, err := New(dir, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := reader.Watch(ctx, transferstore.TransfersKey)
	require.NoError(t, err)

	// Writes to other keys are ignored.
	require.NoError(t, writer.Set(ctx, transferstore.PreferencesKey, []byte(`{}`)))
	require.NoError(t, writer.Set(ctx, transferstore.TransfersKey, []byte(`[]`)))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	assert.Eventually(t, func() bool {
		for range changes {
		}
		return true
	}, time.Second, 10*time.Millisecond)
}
