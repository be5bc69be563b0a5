package bridge

import (
	"strings"

	"github.com/chainsafe/usdc-hopper/pkg/transfer"
)

// RawStep mirrors the engine's step shape. Providers disagree on where the
// hash lives so every known field is kept.
type RawStep struct {
	Name              string   `json:"name"`
	State             string   `json:"state"`
	TxHash            string   `json:"txHash,omitempty"`
	TransactionHash   string   `json:"transactionHash,omitempty"`
	Hash              string   `json:"hash,omitempty"`
	TxHashes          []string `json:"txHashes,omitempty"`
	TransactionHashes []string `json:"transactionHashes,omitempty"`
	ExplorerURL       string   `json:"explorerUrl,omitempty"`
	ExplorerURLs      []string `json:"explorerUrls,omitempty"`
	Data              *RawData `json:"data,omitempty"`
}

// RawData is the nested payload some providers attach to a step
type RawData struct {
	TxHash      string `json:"txHash,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

// RawResult mirrors the engine's result shape
type RawResult struct {
	State string    `json:"state"`
	Steps []RawStep `json:"steps"`
}

// Normalize converts a raw engine result. Unknown overall states become
// StateError.
func Normalize(raw *RawResult) *Result {
	if raw == nil {
		return &Result{State: StateError}
	}

	res := &Result{State: normalizeState(raw.State)}
	for _, s := range raw.Steps {
		res.Steps = append(res.Steps, Step{
			Name:        s.Name,
			State:       strings.ToLower(strings.TrimSpace(s.State)),
			TxHash:      s.hash(),
			ExplorerURL: s.explorerURL(),
		})
	}
	return res
}

func normalizeState(s string) State {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateSuccess:
		return StateSuccess
	case StatePending:
		return StatePending
	default:
		return StateError
	}
}

// hash searches the direct hash fields first, then any explorer URL.
func (s RawStep) hash() string {
	direct := []string{s.TxHash, s.TransactionHash, s.Hash}
	if s.Data != nil {
		direct = append(direct, s.Data.TxHash)
	}
	direct = append(direct, s.TxHashes...)
	direct = append(direct, s.TransactionHashes...)

	for _, candidate := range direct {
		candidate = strings.TrimSpace(candidate)
		if transfer.IsTxHash(candidate) {
			return candidate
		}
	}
	for _, u := range s.explorerURLs() {
		if h := transfer.ExtractTxHash(u); h != "" {
			return h
		}
	}
	return ""
}

func (s RawStep) explorerURLs() []string {
	urls := []string{s.ExplorerURL}
	if s.Data != nil {
		urls = append(urls, s.Data.ExplorerURL)
	}
	return append(urls, s.ExplorerURLs...)
}

func (s RawStep) explorerURL() string {
	for _, u := range s.explorerURLs() {
		if u != "" {
			return u
		}
	}
	return ""
}
