package mint

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Request is what the caller asks to mint. It is not modified once submitted.
type Request struct {
	RecipientAddress string `json:"recipientAddress"`
	ImageURI         string `json:"imageUri"`
	// IdempotencyKey is copied onto the outcome. It does not affect the transaction.
	IdempotencyKey   string `json:"-"`
}

// ContractTarget identifies the entry point the transaction invokes.
type ContractTarget struct {
	Package  string `json:"packageId" yaml:"packageId"`
	Module   string `json:"module" yaml:"module"`
	Function string `json:"function" yaml:"function"`
}

// ParseTarget reads a "package::module::function" coordinate.
func ParseTarget(s string) (ContractTarget, error) {
	parts := strings.Split(strings.TrimSpace(s), "::")
	if len(parts) != 3 {
		return ContractTarget{}, fmt.Errorf("contract target %q: want package::module::function", s)
	}
	t := ContractTarget{Package: parts[0], Module: parts[1], Function: parts[2]}
	if err := t.Validate(); err != nil {
		return ContractTarget{}, err
	}
	return t, nil
}

func (t ContractTarget) String() string {
	return t.Package + "::" + t.Module + "::" + t.Function
}

// Validate reports whether every coordinate is present.
func (t ContractTarget) Validate() error {
	fields := [...]struct{ name, value string }{
		{"package", t.Package},
		{"module", t.Module},
		{"function", t.Function},
	}
	for _, f := range fields {
		name, v := f.name, strings.TrimSpace(f.value)
		if v == "" {
			return fmt.Errorf("contract target %s is required", name)
		}
		if strings.Contains(v, "::") {
			return fmt.Errorf("contract target %s %q contains a separator", name, v)
		}
	}
	return nil
}

// State is a step of the mint pipeline.
type State string

const (
	StateIdle              State = "idle"
	StateBuilding          State = "building"
	StateAwaitingSignature State = "awaiting_signature"
	StateSubmitting        State = "submitting"
	StateReportingEffects  State = "reporting_effects"
	StateDone              State = "done"
)

// Status is the coarse result carried by an Outcome.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome is the result of one mint attempt. Each call to Mint produces a new one.
type Outcome struct {
	AttemptID      string    `json:"attemptId"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Status         Status    `json:"status"`
	Digest         string    `json:"digest,omitempty"`
	Reason         Reason    `json:"reason,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt,omitempty"`
}

// Done reports whether the outcome is terminal.
func (o Outcome) Done() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed
}

// Err rebuilds the failure as an *Error, or nil for a non-failed outcome.
// The cause is not kept; Mint returns the original error.
func (o Outcome) Err() error {
	if o.Status != StatusFailed {
		return nil
	}
	return &Error{Reason: o.Reason, Detail: o.Detail, Digest: o.Digest}
}

// SignedTransaction is what the execution node accepts.
type SignedTransaction struct {
	Bytes     []byte
	Signature string
}

// SignedPayload is returned by a wallet. Reporter must be used once the
// node has answered for this payload.
type SignedPayload struct {
	Bytes     []byte
	Signature string
	Reporter  *EffectsReporter
}

// ExecuteOptions selects what the node includes in its response.
type ExecuteOptions struct {
	ShowRawEffects    bool `json:"showRawEffects"`
	ShowEffects       bool `json:"showEffects"`
	ShowObjectChanges bool `json:"showObjectChanges"`
}

// DefaultExecuteOptions requests everything the pipeline needs.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{ShowRawEffects: true, ShowEffects: true, ShowObjectChanges: true}
}

// ExecutionResult is the node's answer for a submitted transaction.
// Success is false when the transaction executed but aborted on-chain.
type ExecutionResult struct {
	Digest     string
	RawEffects []byte
	Success    bool
	Error      string
}

// SerializeEffects renders raw effects as a JSON array of byte values.
func SerializeEffects(raw []byte) string {
	values := make([]int, len(raw))
	for i, b := range raw {
		values[i] = int(b)
	}
	out, _ := json.Marshal(values)
	return string(out)
}
