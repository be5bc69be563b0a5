// Package bridge is the boundary to the external bridging engine. Engine
// output is normalized here once so the rest of the system never inspects
// the provider's raw step shape.
package bridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/usdc-hopper/pkg/wallet"
)

// State is the overall engine outcome
type State string

const (
	StateSuccess State = "success"
	StatePending State = "pending"
	StateError   State = "error"
)

// Engine step states
const (
	StepStateSuccess = "success"
	StepStateNoop    = "noop"
	StepStatePending = "pending"
	StepStateError   = "error"
)

// Engine performs a cross-chain transfer
type Engine interface {
	Bridge(ctx context.Context, params Params) (*Result, error)
}

// Endpoint is one side of a transfer
type Endpoint struct {
	Adapter   *Adapter
	Chain     string
	Recipient string
}

// Config carries engine options
type Config struct {
	TransferSpeed string
}

// Params describes one bridge call
type Params struct {
	From   Endpoint
	To     Endpoint
	Amount string
	Config Config
}

// Step is an engine-reported step with its hash already extracted
type Step struct {
	Name        string
	State       string
	TxHash      string
	ExplorerURL string
}

// Result is the normalized engine outcome
type Result struct {
	State State
	Steps []Step
}

// Adapter binds a connected wallet to bridge requests
type Adapter struct {
	provider wallet.Provider
}

// NewAdapter wraps a wallet provider
func NewAdapter(provider wallet.Provider) *Adapter {
	return &Adapter{provider: provider}
}

// Address of the wallet behind the adapter.
func (a *Adapter) Address() common.Address {
	return a.provider.Address()
}

// Authorization proves the wallet approved a specific request
type Authorization struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Authorize signs the canonical request message with the wallet.
func (a *Adapter) Authorize(ctx context.Context, p Params) (*Authorization, error) {
	msg := RequestMessage(p)
	sig, err := a.provider.SignMessage(ctx, []byte(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to sign bridge request: %w", err)
	}
	return &Authorization{
		Address:   a.Address().Hex(),
		Message:   msg,
		Signature: "0x" + common.Bytes2Hex(sig),
	}, nil
}

// RequestMessage is the text a wallet signs to approve p.
func RequestMessage(p Params) string {
	return fmt.Sprintf("usdc-hopper bridge request\nfrom: %s\nto: %s\nrecipient: %s\namount: %s\nspeed: %s",
		p.From.Chain, p.To.Chain, p.To.Recipient, p.Amount, p.Config.TransferSpeed)
}
