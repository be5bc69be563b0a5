// Package watcher reconciles in-flight transfers against on-chain receipts.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/usdc-hopper/internal/metrics"
	"github.com/chainsafe/usdc-hopper/pkg/chainclient"
	"github.com/chainsafe/usdc-hopper/pkg/network"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
)

const (
	// PollInterval is the delay between scheduled passes.
	PollInterval = 15 * time.Second
	// NotFoundLogEvery throttles the "still waiting" diagnostic.
	NotFoundLogEvery = 5

	maxConcurrentTransfers = 4
)

// ReceiptClient reports transaction finality
type ReceiptClient interface {
	GetReceipt(ctx context.Context, chainID uint64, txHash string) (chainclient.ReceiptStatus, error)
}

// TransferStore is the subset of the transfer store the watcher needs
type TransferStore interface {
	Load(ctx context.Context) []*transfer.Transfer
	Subscribe(ctx context.Context) <-chan []*transfer.Transfer
	Mutate(ctx context.Context, id string, fn func(t *transfer.Transfer) bool) (*transfer.Transfer, error)
}

// Watcher polls receipts for every pending step of every non-terminal transfer
type Watcher struct {
	store    TransferStore
	receipts ReceiptClient
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	retries map[retryKey]int
}

// New creates a Watcher
func New(store TransferStore, receipts ReceiptClient, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		receipts: receipts,
		logger:   logger,
		interval: PollInterval,
		retries:  make(map[retryKey]int),
	}
}

// Run keeps one polling loop alive for the current set of active transfers.
// Whenever the set changes the previous loop is cancelled and a new one
// starts. No loop runs while nothing is active. Run returns when ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("Starting transfer watcher", zap.Duration("interval", w.interval))

	var (
		cancel context.CancelFunc
		done   chan struct{}
		key    string
	)
	stop := func() {
		if cancel != nil {
			cancel()
			<-done
			cancel = nil
		}
	}
	defer stop()

	for snapshot := range w.store.Subscribe(ctx) {
		active := Active(snapshot)
		metrics.ActiveTransfers.Set(float64(len(active)))

		next := fingerprint(active)
		if next == key && cancel != nil {
			continue
		}
		stop()
		key = next
		if len(active) == 0 {
			continue
		}

		var loopCtx context.Context
		loopCtx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func(ctx context.Context, active []*transfer.Transfer, done chan struct{}) {
			defer close(done)
			w.loop(ctx, active)
		}(loopCtx, active, done)
	}
	w.logger.Info("Transfer watcher stopped")
}

// loop runs a pass immediately and then on every tick until ctx is done.
func (w *Watcher) loop(ctx context.Context, active []*transfer.Transfer) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		metrics.WatcherPasses.WithLabelValues("scheduled").Inc()
		if err := w.Pass(ctx, active); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ForceCheck runs one pass over the latest persisted transfers. It is safe to
// call while the scheduled loop is running.
func (w *Watcher) ForceCheck(ctx context.Context) error {
	metrics.WatcherPasses.WithLabelValues("manual").Inc()
	return w.Pass(ctx, Active(w.store.Load(ctx)))
}

// Pass reconciles every pending step of the given transfers once. Transfers
// are checked concurrently; the steps of one transfer run in order. A
// cancelled pass writes nothing further and returns ctx.Err().
func (w *Watcher) Pass(ctx context.Context, transfers []*transfer.Transfer) error {
	w.pruneRetries(transfers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTransfers)

	for _, t := range transfers {
		if t.IsTerminal() {
			continue
		}
		t := t
		g.Go(func() error {
			w.reconcile(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (w *Watcher) reconcile(ctx context.Context, t *transfer.Transfer) {
	for _, step := range t.Steps {
		if ctx.Err() != nil {
			return
		}
		if step.State != transfer.StepPending {
			continue
		}

		logger := w.logger.With(
			zap.String("transfer_id", t.ID),
			zap.String("step", string(step.ID)))

		hash := ResolveTxHash(t, &step)
		if hash != "" && step.TxHash == "" {
			w.recordHash(ctx, logger, t.ID, step.ID, hash)
		}
		if hash == "" || step.ChainID == 0 {
			continue
		}
		logger = logger.With(zap.String("tx_hash", hash), zap.Uint64("chain_id", step.ChainID))

		status, err := w.receipts.GetReceipt(ctx, step.ChainID, hash)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch {
			case errors.Is(err, chainclient.ErrNoEndpoint):
				logger.Warn("No reachable endpoint for receipt lookup", zap.Error(err))
			case errors.Is(err, network.ErrUnknownNetwork):
				logger.Warn("No network registered for step chain", zap.Error(err))
			default:
				logger.Warn("Receipt lookup failed", zap.Error(err))
			}
			continue
		}

		key := retryKey{transferID: t.ID, step: step.ID, hash: hash}
		if status == chainclient.ReceiptNotFound {
			if attempts := w.bumpRetry(key); attempts%NotFoundLogEvery == 0 {
				logger.Debug("Waiting for receipt", zap.Int("attempt", attempts))
			}
			continue
		}
		w.clearRetry(key)

		logger.Info("Receipt found", zap.String("result", status.String()))
		w.settle(ctx, logger, t.ID, step.ID, hash, status == chainclient.ReceiptSuccess)
	}
}

// recordHash persists a derived hash on a step that has none.
func (w *Watcher) recordHash(ctx context.Context, logger *zap.Logger, id string, stepID transfer.StepID, hash string) {
	_, err := w.store.Mutate(ctx, id, func(cur *transfer.Transfer) bool {
		if ctx.Err() != nil {
			return false
		}
		s := cur.Step(stepID)
		return s != nil && s.SetTxHash(hash)
	})
	if err != nil {
		logger.Warn("Failed to record derived tx hash", zap.Error(err))
	}
}

// settle applies a definitive receipt to the latest persisted copy of the
// transfer. Nothing is written when the transfer went terminal, the step
// settled, or the step now holds a different hash.
func (w *Watcher) settle(ctx context.Context, logger *zap.Logger, id string, stepID transfer.StepID, hash string, success bool) {
	applied := false
	updated, err := w.store.Mutate(ctx, id, func(cur *transfer.Transfer) bool {
		if ctx.Err() != nil || cur.IsTerminal() {
			return false
		}
		s := cur.Step(stepID)
		if s == nil || s.State != transfer.StepPending {
			return false
		}
		if s.TxHash != "" && s.TxHash != hash {
			return false
		}
		s.SetTxHash(hash)
		Apply(cur, stepID, success)
		applied = true
		return true
	})
	if err != nil {
		logger.Warn("Failed to record receipt", zap.Error(err))
		return
	}
	if !applied {
		return
	}

	state := transfer.StepError
	if success {
		state = transfer.StepSuccess
	}
	metrics.StepTransitions.WithLabelValues(string(stepID), string(state)).Inc()
	if updated.IsTerminal() {
		logger.Info("Transfer finished", zap.String("status", string(updated.Status)))
	}
}

// Apply settles stepID on t and recomputes the transfer status. A settled
// mint drags a still-pending attestation with it and decides the status
// directly. Otherwise the status only moves once every step has settled.
// Terminal transfers are never changed.
func Apply(t *transfer.Transfer, stepID transfer.StepID, success bool) {
	if t.IsTerminal() {
		return
	}
	state := transfer.StepError
	if success {
		state = transfer.StepSuccess
	}

	s := t.Step(stepID)
	if s == nil {
		return
	}
	s.State = state

	if stepID == transfer.StepMint {
		if att := t.Step(transfer.StepAttestation); att != nil && att.State == transfer.StepPending {
			att.State = state
		}
		if success {
			t.Status = transfer.StatusCompleted
		} else {
			t.Status = transfer.StatusFailed
		}
	} else if t.AllSettled() {
		switch {
		case t.AllSucceeded() && t.Status == transfer.StatusMinting:
			t.Status = transfer.StatusCompleted
		case !t.AllSucceeded() && t.Status != transfer.StatusFailed:
			t.Status = transfer.StatusFailed
		}
	}

	if t.Status == transfer.StatusFailed && t.ErrorMessage == "" {
		for _, st := range t.Steps {
			if st.State == transfer.StepError {
				t.ErrorMessage = fmt.Sprintf("%s step failed on chain.", st.ID)
				break
			}
		}
	}
}

// ResolveTxHash finds a usable hash for step: its own hash, then its explorer
// URL, then the transfer link matching the step's role.
func ResolveTxHash(t *transfer.Transfer, step *transfer.Step) string {
	if h := transfer.ExtractTxHash(step.TxHash); h != "" {
		return h
	}
	if h := transfer.ExtractTxHash(step.ExplorerURL); h != "" {
		return h
	}
	if t.ExplorerLinks == nil {
		return ""
	}
	switch step.ID {
	case transfer.StepBurn:
		return transfer.ExtractTxHash(t.ExplorerLinks.Source)
	case transfer.StepMint:
		return transfer.ExtractTxHash(t.ExplorerLinks.Destination)
	}
	return ""
}

// Active filters out terminal transfers.
func Active(transfers []*transfer.Transfer) []*transfer.Transfer {
	var out []*transfer.Transfer
	for _, t := range transfers {
		if !t.IsTerminal() {
			out = append(out, t)
		}
	}
	return out
}

// fingerprint identifies the reconcilable content of the active set.
func fingerprint(active []*transfer.Transfer) string {
	parts := make([]string, 0, len(active))
	for _, t := range active {
		var b strings.Builder
		b.WriteString(t.ID)
		b.WriteByte('=')
		b.WriteString(string(t.Status))
		for _, s := range t.Steps {
			fmt.Fprintf(&b, "|%s:%s:%s:%s", s.ID, s.State, s.TxHash, s.ExplorerURL)
		}
		if t.ExplorerLinks != nil {
			fmt.Fprintf(&b, "|%s|%s", t.ExplorerLinks.Source, t.ExplorerLinks.Destination)
		}
		parts = append(parts, b.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// retryKey counts not-found lookups per transfer, step and hash.
type retryKey struct {
	transferID string
	step       transfer.StepID
	hash       string
}

func (w *Watcher) bumpRetry(key retryKey) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retries[key]++
	return w.retries[key]
}

func (w *Watcher) clearRetry(key retryKey) {
	w.mu.Lock()
	delete(w.retries, key)
	w.mu.Unlock()
}

// pruneRetries drops counters of transfers that are no longer active.
func (w *Watcher) pruneRetries(transfers []*transfer.Transfer) {
	active := make(map[string]struct{}, len(transfers))
	for _, t := range transfers {
		if !t.IsTerminal() {
			active[t.ID] = struct{}{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.retries {
		if _, ok := active[key.transferID]; !ok {
			delete(w.retries, key)
		}
	}
}
