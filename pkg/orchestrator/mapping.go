package orchestrator

import (
	"strings"
	"unicode"

	"github.com/chainsafe/usdc-hopper/pkg/bridge"
	"github.com/chainsafe/usdc-hopper/pkg/transfer"
)

// AliasTable maps normalized engine step words onto canonical steps
type AliasTable map[string]transfer.StepID

// DefaultAliases covers the step names the known bridging providers report.
var DefaultAliases = AliasTable{
	"approval":  transfer.StepApproval,
	"approve":   transfer.StepApproval,
	"allowance": transfer.StepApproval,
	"authorize": transfer.StepApproval,
	"permit":    transfer.StepApproval,

	"burn":     transfer.StepBurn,
	"deposit":  transfer.StepBurn,
	"send":     transfer.StepBurn,
	"transfer": transfer.StepBurn,

	"attestation": transfer.StepAttestation,
	"attest":      transfer.StepAttestation,
	"confirm":     transfer.StepAttestation,
	"message":     transfer.StepAttestation,

	"mint":     transfer.StepMint,
	"receive":  transfer.StepMint,
	"withdraw": transfer.StepMint,
	"claim":    transfer.StepMint,
}

// tokens lowercases name and splits it on anything that is not a letter or digit.
func tokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Resolve returns the canonical step for the first word of name that has an alias.
func (a AliasTable) Resolve(name string) (transfer.StepID, bool) {
	for _, tok := range tokens(name) {
		if id, ok := a[tok]; ok {
			return id, true
		}
	}
	return "", false
}

// Match finds the engine step reporting on canonical step id. Alias matches
// win over exact raw matches, which win over containment in either direction.
func (a AliasTable) Match(id transfer.StepID, steps []bridge.Step) (bridge.Step, bool) {
	for _, s := range steps {
		if resolved, ok := a.Resolve(s.Name); ok && resolved == id {
			return s, true
		}
	}
	for _, s := range steps {
		if s.Name == string(id) {
			return s, true
		}
	}
	canonical := string(id)
	for _, s := range steps {
		raw := strings.ToLower(strings.TrimSpace(s.Name))
		normalized := strings.Join(tokens(s.Name), " ")
		if raw == "" {
			continue
		}
		if strings.Contains(raw, canonical) || strings.Contains(normalized, canonical) ||
			strings.Contains(canonical, raw) || (normalized != "" && strings.Contains(canonical, normalized)) {
			return s, true
		}
	}
	return bridge.Step{}, false
}

// MapStepState converts an engine step state. ok is false for states that
// carry no information.
func MapStepState(state string) (transfer.StepState, bool) {
	switch state {
	case bridge.StepStateSuccess, bridge.StepStateNoop:
		return transfer.StepSuccess, true
	case bridge.StepStateError:
		return transfer.StepError, true
	case bridge.StepStatePending:
		return transfer.StepPending, true
	default:
		return "", false
	}
}

// StatusFor derives the transfer status from the engine's overall state.
func StatusFor(state bridge.State) transfer.Status {
	switch state {
	case bridge.StateSuccess:
		return transfer.StatusCompleted
	case bridge.StatePending:
		return transfer.StatusMinting
	default:
		return transfer.StatusFailed
	}
}
