// Package orchestrator drives one transfer through the bridging engine and
// records its progress in the transfer store.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/internal/metrics"
	apperrors "github.com/chainsafe/usdc-hopper/pkg/app/errors"
	"github.com/chainsafe/usdc-hopper/pkg/bridge"
	"github.com/chainsafe/usdc-hopper/pkg/network"
	"github.com/chainsafe/usdc-hopper/pkg/quote"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
	"github.com/chainsafe/usdc-hopper/pkg/wallet"
)

// Caller-facing messages
const (
	MsgNoWallet         = "Connect a wallet to bridge USDC."
	MsgNoRecipient      = "No recipient address found."
	MsgInvalidRecipient = "Recipient address is invalid."
	MsgSameNetwork      = "Choose two different networks."
	MsgUnknownNetwork   = "Unsupported network."
	MsgInvalidAmount    = "Amount must be greater than zero."
	MsgBridgeFailed     = "Bridge request failed."
	MsgEngineError      = "Bridge engine reported an error."

	msgAwaitingWallet = "Awaiting wallet confirmations…"
	msgInProgress     = "Bridge in progress…"
)

// DefaultTransferSpeed is requested from the engine unless overridden.
const DefaultTransferSpeed = "FAST"

// TransferStore is the subset of the transfer store the orchestrator writes through
type TransferStore interface {
	Upsert(ctx context.Context, t *transfer.Transfer) error
	Mutate(ctx context.Context, id string, fn func(t *transfer.Transfer) bool) (*transfer.Transfer, error)
	SaveNetworkPreferences(ctx context.Context, prefs transfer.NetworkPreferences) error
}

// Request is one user submission
type Request struct {
	FromNetworkID string       `json:"fromNetworkId"`
	ToNetworkID   string       `json:"toNetworkId"`
	Amount        string       `json:"amount"`
	Recipient     string       `json:"recipient,omitempty"`
	Quote         *quote.Quote `json:"quote,omitempty"`
}

// Phase of the current execution
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePending Phase = "pending"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// State is the progress of the latest execution. It is not persisted.
type State struct {
	Phase      Phase           `json:"status"`
	Steps      []transfer.Step `json:"steps"`
	Message    string          `json:"message,omitempty"`
	TransferID string          `json:"transferId,omitempty"`
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides transfer id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithAliases replaces the step alias table.
func WithAliases(aliases AliasTable) Option {
	return func(o *Orchestrator) { o.aliases = aliases }
}

// WithTransferSpeed sets the engine transfer speed.
func WithTransferSpeed(speed string) Option {
	return func(o *Orchestrator) {
		if speed != "" {
			o.speed = speed
		}
	}
}

// Orchestrator executes transfers
type Orchestrator struct {
	store    TransferStore
	engine   bridge.Engine
	registry network.Registry
	signer   wallet.Signer
	quoter   quote.Quoter
	logger   *zap.Logger

	aliases AliasTable
	speed   string
	now     func() time.Time
	newID   func() string

	mu    sync.RWMutex
	state State
}

// New creates an Orchestrator. quoter may be nil when no pricing is wanted.
func New(
	store TransferStore,
	engine bridge.Engine,
	registry network.Registry,
	signer wallet.Signer,
	quoter quote.Quoter,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		engine:   engine,
		registry: registry,
		signer:   signer,
		quoter:   quoter,
		logger:   logger,
		aliases:  DefaultAliases,
		speed:    DefaultTransferSpeed,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = idleState()
	return o
}

func idleState() State {
	return State{Phase: PhaseIdle, Steps: transfer.DefaultSteps(0, 0)}
}

// State returns the progress of the latest execution.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.state
	s.Steps = append([]transfer.Step(nil), o.state.Steps...)
	return s
}

// Reset returns the execution state to idle.
func (o *Orchestrator) Reset() {
	o.setState(idleState())
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

type resolved struct {
	provider  wallet.Provider
	from      *network.Network
	to        *network.Network
	recipient string
}

// validate checks every precondition before anything is written.
func (o *Orchestrator) validate(ctx context.Context, req Request) (*resolved, error) {
	provider, err := o.signer.Provider(ctx)
	if err != nil || provider == nil {
		if err == nil {
			err = wallet.ErrNotConnected
		}
		return nil, apperrors.BadRequestError(err, MsgNoWallet)
	}

	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" && provider.Address() != (common.Address{}) {
		recipient = provider.Address().Hex()
	}
	if recipient == "" {
		return nil, apperrors.BadRequestError(nil, MsgNoRecipient)
	}
	if !common.IsHexAddress(recipient) {
		return nil, apperrors.BadRequestError(nil, MsgInvalidRecipient)
	}

	if req.FromNetworkID == req.ToNetworkID {
		return nil, apperrors.BadRequestError(nil, MsgSameNetwork)
	}
	from, err := o.registry.LookupByID(req.FromNetworkID)
	if err != nil {
		return nil, apperrors.BadRequestError(err, MsgUnknownNetwork)
	}
	to, err := o.registry.LookupByID(req.ToNetworkID)
	if err != nil {
		return nil, apperrors.BadRequestError(err, MsgUnknownNetwork)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		return nil, apperrors.BadRequestError(err, MsgInvalidAmount)
	}

	return &resolved{provider: provider, from: from, to: to, recipient: recipient}, nil
}

// Execute submits req to the bridging engine. The pending record is stored
// before the engine is called, so the returned id is always discoverable.
// Precondition failures return before any write.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (string, error) {
	r, err := o.validate(ctx, req)
	if err != nil {
		return "", err
	}

	o.setState(State{
		Phase:   PhasePending,
		Steps:   transfer.DefaultSteps(r.from.ChainID, r.to.ChainID),
		Message: msgAwaitingWallet,
	})

	q := req.Quote
	if q == nil && o.quoter != nil {
		q = o.quoter.Quote(ctx, quote.Params{
			FromNetworkID: r.from.ID,
			ToNetworkID:   r.to.ID,
			FromChainID:   r.from.ChainID,
			ToChainID:     r.to.ChainID,
			Amount:        req.Amount,
			Wallet:        r.provider.Address().Hex(),
		})
	}

	record := transfer.New(o.newID(), r.from.ID, r.to.ID, r.from.ChainID, r.to.ChainID, req.Amount, o.now())
	if q != nil {
		record.AmountOutEstimated = q.AmountOut
		record.Route = &transfer.Route{
			Provider:   q.Provider,
			RouteID:    q.RouteID,
			ETASeconds: q.ETASeconds,
			FeeAmount:  q.FeeAmount,
		}
	}

	logger := o.logger.With(
		zap.String("transfer_id", record.ID),
		zap.String("from", r.from.ID),
		zap.String("to", r.to.ID),
		zap.String("amount", req.Amount))

	if err := o.store.Upsert(ctx, record); err != nil {
		o.setState(State{Phase: PhaseError, Steps: record.Steps, Message: MsgBridgeFailed})
		return "", apperrors.GeneralError(err)
	}
	logger.Info("Transfer submitted")

	prefs := transfer.NetworkPreferences{FromNetworkID: r.from.ID, ToNetworkID: r.to.ID}
	if err := o.store.SaveNetworkPreferences(ctx, prefs); err != nil {
		logger.Warn("Failed to save network preferences", zap.Error(err))
	}

	adapter := bridge.NewAdapter(r.provider)
	params := bridge.Params{
		From:   bridge.Endpoint{Adapter: adapter, Chain: r.from.EngineChain},
		To:     bridge.Endpoint{Adapter: adapter, Chain: r.to.EngineChain, Recipient: r.recipient},
		Amount: req.Amount,
		Config: bridge.Config{TransferSpeed: o.speed},
	}

	start := time.Now()
	result, err := o.engine.Bridge(ctx, params)
	if err != nil {
		metrics.EngineCallDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return record.ID, o.fail(ctx, logger, record.ID, err)
	}
	metrics.EngineCallDuration.WithLabelValues(string(result.State)).Observe(time.Since(start).Seconds())

	updated, err := o.store.Mutate(ctx, record.ID, func(t *transfer.Transfer) bool {
		return o.apply(logger, t, result, r.from, r.to)
	})
	if err != nil {
		// The record may have been cleared while the engine ran.
		logger.Error("Failed to record bridge result", zap.Error(err))
		updated = record
	}
	metrics.TransfersTotal.WithLabelValues(r.from.ID, r.to.ID, string(updated.Status)).Inc()
	logger.Info("Bridge call returned",
		zap.String("engine_state", string(result.State)),
		zap.String("status", string(updated.Status)))

	switch result.State {
	case bridge.StatePending:
		o.setState(State{Phase: PhasePending, Steps: updated.Steps, Message: msgInProgress, TransferID: record.ID})
	case bridge.StateSuccess:
		o.setState(State{Phase: PhaseSuccess, Steps: updated.Steps, TransferID: record.ID})
	default:
		o.setState(State{Phase: PhaseError, Steps: updated.Steps, Message: MsgEngineError, TransferID: record.ID})
	}
	return record.ID, nil
}

// fail marks the first step as errored and the transfer as failed.
func (o *Orchestrator) fail(ctx context.Context, logger *zap.Logger, id string, cause error) error {
	logger.Error("Bridge request failed", zap.Error(cause))

	updated, err := o.store.Mutate(ctx, id, func(t *transfer.Transfer) bool {
		if t.IsTerminal() {
			return false
		}
		t.Steps[0].State = transfer.StepError
		t.Status = transfer.StatusFailed
		t.ErrorMessage = cause.Error()
		return true
	})
	if err != nil {
		logger.Error("Failed to record bridge failure", zap.Error(err))
	}

	steps := transfer.DefaultSteps(0, 0)
	if updated != nil {
		steps = updated.Steps
		metrics.TransfersTotal.WithLabelValues(updated.FromNetworkID, updated.ToNetworkID, string(updated.Status)).Inc()
	}
	o.setState(State{Phase: PhaseError, Steps: steps, Message: MsgBridgeFailed, TransferID: id})

	return apperrors.DependencyError(cause, MsgBridgeFailed)
}

// apply maps the engine result onto t. Terminal transfers are left alone,
// settled steps are never reopened and hashes are never overwritten.
func (o *Orchestrator) apply(logger *zap.Logger, t *transfer.Transfer, result *bridge.Result, from, to *network.Network) bool {
	if t.IsTerminal() {
		return false
	}

	changed := false
	for i := range t.Steps {
		step := &t.Steps[i]
		match, ok := o.aliases.Match(step.ID, result.Steps)
		if !ok {
			metrics.UnmatchedSteps.WithLabelValues(string(step.ID)).Inc()
			logger.Debug("No engine step matched", zap.String("step", string(step.ID)))
			continue
		}

		if state, ok := MapStepState(match.State); ok && state != step.State {
			if !step.State.IsSettled() || state.IsSettled() {
				step.State = state
				changed = true
			}
		}
		if step.SetTxHash(match.TxHash) {
			changed = true
		}
		if link := stepExplorerURL(step, match.ExplorerURL, from, to); link != "" && step.ExplorerURL == "" {
			step.ExplorerURL = link
			changed = true
		}
	}

	if links := deriveLinks(t); links != nil {
		t.ExplorerLinks = links
		changed = true
	}

	status := StatusFor(result.State)
	if status != t.Status {
		t.Status = status
		changed = true
	}
	if status == transfer.StatusFailed && t.ErrorMessage == "" {
		t.ErrorMessage = MsgEngineError
		changed = true
	}
	return changed
}

// stepExplorerURL prefers the engine's link and falls back to the network's
// explorer pattern for the step's chain.
func stepExplorerURL(step *transfer.Step, engineURL string, from, to *network.Network) string {
	if engineURL != "" {
		return engineURL
	}
	switch step.ID {
	case transfer.StepApproval, transfer.StepBurn:
		return from.TxURL(step.TxHash)
	case transfer.StepMint:
		return to.TxURL(step.TxHash)
	default:
		return ""
	}
}

// deriveLinks returns new explorer links when the burn or mint link differs
// from what is stored, nil otherwise.
func deriveLinks(t *transfer.Transfer) *transfer.ExplorerLinks {
	next := transfer.ExplorerLinks{}
	if t.ExplorerLinks != nil {
		next = *t.ExplorerLinks
	}
	if burn := t.Step(transfer.StepBurn); burn != nil && burn.ExplorerURL != "" {
		next.Source = burn.ExplorerURL
	}
	if mint := t.Step(transfer.StepMint); mint != nil && mint.ExplorerURL != "" {
		next.Destination = mint.ExplorerURL
	}
	if next == (transfer.ExplorerLinks{}) {
		return nil
	}
	if t.ExplorerLinks != nil && *t.ExplorerLinks == next {
		return nil
	}
	return &next
}
