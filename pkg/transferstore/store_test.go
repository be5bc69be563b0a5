package transferstore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/transfer"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore/memstore"
)

func newTransfer(id string, created time.Time) *transfer.Transfer {
	return transfer.New(id, "ethereum-sepolia", "arc-testnet", 11155111, 5042002, "10", created)
}

func newStore(t *testing.T) (context.Context, *transferstore.Store, *memstore.Store) {
	t.Helper()
	backend := memstore.New()
	return context.Background(), transferstore.New(backend, zap.NewNop()), backend
}

func TestStore_LoadEmptyAndMalformed(t *testing.T) {
	ctx, s, backend := newStore(t)
	assert.Empty(t, s.Load(ctx))

	require.NoError(t, backend.Set(ctx, transferstore.TransfersKey, []byte("{not json")))
	assert.Empty(t, s.Load(ctx))

	// Records that break the four-step shape are dropped individually.
	good := newTransfer("good", time.Now())
	bad := newTransfer("bad", time.Now())
	bad.Steps = bad.Steps[:2]
	require.NoError(t, s.Save(ctx, []*transfer.Transfer{good, bad}))

	loaded := s.Load(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].ID)
}

func TestStore_UpsertRetentionCap(t *testing.T) {
	ctx, s, _ := newStore(t)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < transferstore.MaxTransfers+1; i++ {
		require.NoError(t, s.Upsert(ctx, newTransfer(fmt.Sprintf("t-%02d", i), base.Add(time.Duration(i)*time.Second))))
	}

	loaded := s.Load(ctx)
	require.Len(t, loaded, transferstore.MaxTransfers)
	assert.Equal(t, "t-25", loaded[0].ID)
	assert.Equal(t, "t-01", loaded[len(loaded)-1].ID)
	for _, tr := range loaded {
		assert.NotEqual(t, "t-00", tr.ID)
	}
}

func TestStore_UpsertReplacesAndMovesToFront(t *testing.T) {
	ctx, s, _ := newStore(t)
	require.NoError(t, s.Upsert(ctx, newTransfer("a", time.Now())))
	require.NoError(t, s.Upsert(ctx, newTransfer("b", time.Now())))

	a := newTransfer("a", time.Now())
	a.Status = transfer.StatusMinting
	require.NoError(t, s.Upsert(ctx, a))

	loaded := s.Load(ctx)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, transfer.StatusMinting, loaded[0].Status)
	assert.Equal(t, "b", loaded[1].ID)
}

func TestStore_Mutate(t *testing.T) {
	ctx, s, _ := newStore(t)
	now := time.Unix(1_700_000_500, 0).UTC()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Upsert(ctx, newTransfer("a", time.Unix(1_700_000_000, 0).UTC())))

	updated, err := s.Mutate(ctx, "a", func(tr *transfer.Transfer) bool {
		tr.Status = transfer.StatusMinting
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusMinting, updated.Status)
	assert.True(t, updated.UpdatedAt.Equal(now))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusMinting, got.Status)

	_, err = s.Mutate(ctx, "missing", func(*transfer.Transfer) bool { return true })
	assert.ErrorIs(t, err, transferstore.ErrTransferNotFound)
}

func TestStore_MutateWithoutChangeDoesNotWrite(t *testing.T) {
	ctx, s, _ := newStore(t)
	created := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, s.Upsert(ctx, newTransfer("a", created)))
	s.SetClock(func() time.Time { return created.Add(time.Hour) })

	_, err := s.Mutate(ctx, "a", func(*transfer.Transfer) bool { return false })
	require.NoError(t, err)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(created))
}

func TestStore_ConcurrentMutatesDoNotLoseUpdates(t *testing.T) {
	ctx, s, _ := newStore(t)
	require.NoError(t, s.Upsert(ctx, newTransfer("a", time.Now())))

	hashes := map[transfer.StepID]string{
		transfer.StepApproval: "0x" + strings.Repeat("1", 64),
		transfer.StepBurn:     "0x" + strings.Repeat("2", 64),
		transfer.StepMint:     "0x" + strings.Repeat("3", 64),
	}

	var wg sync.WaitGroup
	for id, hash := range hashes {
		wg.Add(1)
		go func(id transfer.StepID, hash string) {
			defer wg.Done()
			_, err := s.Mutate(ctx, "a", func(tr *transfer.Transfer) bool {
				return tr.Step(id).SetTxHash(hash)
			})
			assert.NoError(t, err)
		}(id, hash)
	}
	wg.Wait()

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	for id, hash := range hashes {
		assert.Equal(t, hash, got.Step(id).TxHash)
	}
}

func TestStore_Clear(t *testing.T) {
	ctx, s, _ := newStore(t)
	require.NoError(t, s.Upsert(ctx, newTransfer("a", time.Now())))
	require.NoError(t, s.Clear(ctx))
	assert.Empty(t, s.Load(ctx))
}

func TestStore_NetworkPreferences(t *testing.T) {
	ctx, s, backend := newStore(t)

	_, ok := s.LoadNetworkPreferences(ctx)
	assert.False(t, ok)

	prefs := transfer.NetworkPreferences{FromNetworkID: "base-sepolia", ToNetworkID: "arc-testnet"}
	require.NoError(t, s.SaveNetworkPreferences(ctx, prefs))

	got, ok := s.LoadNetworkPreferences(ctx)
	require.True(t, ok)
	assert.Equal(t, prefs, got)

	require.NoError(t, backend.Set(ctx, transferstore.PreferencesKey, []byte("[]")))
	_, ok = s.LoadNetworkPreferences(ctx)
	assert.False(t, ok)
}

func TestStore_SubscribeReceivesSnapshots(t *testing.T) {
	ctx, s, _ := newStore(t)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := s.Subscribe(subCtx)
	assert.Empty(t, <-ch)

	require.NoError(t, s.Upsert(ctx, newTransfer("a", time.Now())))
	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		assert.Equal(t, "a", snap[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after upsert")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestStore_WatchChangesFromAnotherStore(t *testing.T) {
	ctx, reader, backend := newStore(t)
	writer := transferstore.New(backend, zap.NewNop())

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := reader.Subscribe(watchCtx)
	<-ch

	done := make(chan error, 1)
	go func() { done <- reader.WatchChanges(watchCtx) }()

	require.Eventually(t, func() bool {
		_ = writer.Upsert(ctx, newTransfer("external", time.Now()))
		select {
		case snap := <-ch:
			return len(snap) == 1 && snap[0].ID == "external"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WatchChanges did not return after cancel")
	}
}

func TestStore_ReadFailureAbortsWrites(t *testing.T) {
	ctx := context.Background()
	backend := &MockBackend{Store: memstore.New()}
	s := transferstore.New(backend, zap.NewNop())

	base := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Upsert(ctx, newTransfer(fmt.Sprintf("t-%d", i), base.Add(time.Duration(i)*time.Second))))
	}
	require.Len(t, s.Load(ctx), 10)

	timeout := errors.New("i/o timeout")
	backend.GetFunc = func(context.Context, string) ([]byte, error) { return nil, timeout }

	err := s.Upsert(ctx, newTransfer("t-new", base.Add(time.Minute)))
	assert.ErrorIs(t, err, timeout)

	called := false
	_, err = s.Mutate(ctx, "t-3", func(*transfer.Transfer) bool {
		called = true
		return true
	})
	assert.ErrorIs(t, err, timeout)
	assert.False(t, called)

	assert.Empty(t, s.Load(ctx), "reads still fail soft")

	backend.GetFunc = nil
	list := s.Load(ctx)
	require.Len(t, list, 10)
	assert.Equal(t, "t-9", list[0].ID)
}

func TestStore_MalformedCollectionIsReplacedOnWrite(t *testing.T) {
	ctx, s, backend := newStore(t)
	require.NoError(t, backend.Set(ctx, transferstore.TransfersKey, []byte("{not json")))

	require.NoError(t, s.Upsert(ctx, newTransfer("fresh", time.Now())))
	list := s.Load(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)
}

func TestStore_SubscriberEndsOnLatestSnapshot(t *testing.T) {
	ctx, s, _ := newStore(t)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := s.Subscribe(subCtx)
	<-ch

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Upsert(ctx, newTransfer(fmt.Sprintf("c-%d", i), time.Now())))
		}(i)
	}
	wg.Wait()

	var last []*transfer.Transfer
	select {
	case last = <-ch:
	case <-time.After(time.Second):
		t.Fatal("no snapshot after concurrent upserts")
	}
	ids := func(list []*transfer.Transfer) []string {
		out := make([]string, 0, len(list))
		for _, tr := range list {
			out = append(out, tr.ID)
		}
		return out
	}
	assert.Equal(t, ids(s.Load(ctx)), ids(last))
}
