// Package transfer defines the persisted record of a cross-chain USDC transfer
// and the canonical four-step pipeline it moves through.
package transfer

import (
	"fmt"
	"time"
)

// Status represents the overall state of a transfer
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusMinting    Status = "minting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further automated mutation may occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepState is the state of a single pipeline step
type StepState string

const (
	StepPending StepState = "pending"
	StepSuccess StepState = "success"
	StepError   StepState = "error"
)

// IsSettled reports whether the step reached success or error.
func (s StepState) IsSettled() bool {
	return s == StepSuccess || s == StepError
}

// StepID names one of the canonical pipeline stages
type StepID string

const (
	StepApproval    StepID = "approval"
	StepBurn        StepID = "burn"
	StepAttestation StepID = "attestation"
	StepMint        StepID = "mint"
)

// CanonicalSteps is the fixed pipeline order. Position identifies the stage.
var CanonicalSteps = []StepID{StepApproval, StepBurn, StepAttestation, StepMint}

var stepLabels = map[StepID]string{
	StepApproval:    "Approval",
	StepBurn:        "Sending on source chain",
	StepAttestation: "Circle is confirming",
	StepMint:        "Minting on destination chain",
}

// Label returns the display text for the step.
func (id StepID) Label() string {
	return stepLabels[id]
}

// Step is one stage of a transfer
type Step struct {
	ID          StepID    `json:"id"`
	Label       string    `json:"label"`
	State       StepState `json:"state"`
	TxHash      string    `json:"txHash,omitempty"`
	ExplorerURL string    `json:"explorerUrl,omitempty"`
	ChainID     uint64    `json:"chainId,omitempty"`
}

// Route is display-only routing information from the pricing quote
type Route struct {
	Provider   string `json:"provider"`
	RouteID    string `json:"routeId,omitempty"`
	ETASeconds int    `json:"etaSeconds,omitempty"`
	FeeAmount  string `json:"feeAmount,omitempty"`
}

// ExplorerLinks are human-facing links derived from the burn and mint steps
type ExplorerLinks struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// Transfer is one user-initiated cross-chain movement
type Transfer struct {
	ID                 string         `json:"id"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	FromNetworkID      string         `json:"fromNetworkId"`
	ToNetworkID        string         `json:"toNetworkId"`
	Amount             string         `json:"amount"`
	AmountOutEstimated string         `json:"amountOutEstimated,omitempty"`
	Status             Status         `json:"status"`
	Steps              []Step         `json:"steps"`
	Route              *Route         `json:"route,omitempty"`
	ExplorerLinks      *ExplorerLinks `json:"explorerLinks,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
}

// NetworkPreferences is the last-used network pair
type NetworkPreferences struct {
	FromNetworkID string `json:"fromNetworkId"`
	ToNetworkID   string `json:"toNetworkId"`
}

// New creates a pending transfer with the four canonical steps. approval and
// burn live on the source chain, mint on the destination chain and attestation
// carries no chain id.
func New(id, fromNetworkID, toNetworkID string, sourceChainID, destChainID uint64, amount string, now time.Time) *Transfer {
	return &Transfer{
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
		FromNetworkID: fromNetworkID,
		ToNetworkID:   toNetworkID,
		Amount:        amount,
		Status:        StatusPending,
		Steps:         DefaultSteps(sourceChainID, destChainID),
	}
}

// DefaultSteps returns the four pending canonical steps.
func DefaultSteps(sourceChainID, destChainID uint64) []Step {
	chainByStep := map[StepID]uint64{
		StepApproval: sourceChainID,
		StepBurn:     sourceChainID,
		StepMint:     destChainID,
	}
	steps := make([]Step, 0, len(CanonicalSteps))
	for _, id := range CanonicalSteps {
		steps = append(steps, Step{
			ID:      id,
			Label:   id.Label(),
			State:   StepPending,
			ChainID: chainByStep[id],
		})
	}
	return steps
}

// IsTerminal reports whether the transfer is completed or failed.
func (t *Transfer) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Step returns a pointer to the step with the given id, or nil.
func (t *Transfer) Step(id StepID) *Step {
	for i := range t.Steps {
		if t.Steps[i].ID == id {
			return &t.Steps[i]
		}
	}
	return nil
}

// SetTxHash records the hash on the step unless a different hash is already
// set. It reports whether the stored value changed.
func (s *Step) SetTxHash(hash string) bool {
	if hash == "" || s.TxHash == hash {
		return false
	}
	if s.TxHash != "" {
		return false
	}
	s.TxHash = hash
	return true
}

// AllSettled reports whether every step reached a terminal state.
func (t *Transfer) AllSettled() bool {
	for _, s := range t.Steps {
		if !s.State.IsSettled() {
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every step succeeded.
func (t *Transfer) AllSucceeded() bool {
	for _, s := range t.Steps {
		if s.State != StepSuccess {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	c.Steps = append([]Step(nil), t.Steps...)
	if t.Route != nil {
		r := *t.Route
		c.Route = &r
	}
	if t.ExplorerLinks != nil {
		l := *t.ExplorerLinks
		c.ExplorerLinks = &l
	}
	return &c
}

// Validate checks the fixed four-step shape.
func (t *Transfer) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transfer has empty id")
	}
	if len(t.Steps) != len(CanonicalSteps) {
		return fmt.Errorf("transfer %s has %d steps, want %d", t.ID, len(t.Steps), len(CanonicalSteps))
	}
	for i, id := range CanonicalSteps {
		if t.Steps[i].ID != id {
			return fmt.Errorf("transfer %s step %d is %q, want %q", t.ID, i, t.Steps[i].ID, id)
		}
	}
	return nil
}
