package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loyaltymint/internal/intent"
	"loyaltymint/internal/mint"

	"github.com/mr-tron/base58/base58"
)

const (
	effectsStatusSuccess byte = 0
	effectsStatusFailure byte = 1
)

// Execution is what MemoryLedger keeps for each executed transaction.
type Execution struct {
	Digest     string
	Sender     string
	RawEffects []byte
	Success    bool
	Error      string
	ExecutedAt time.Time
}

// MemoryLedger is an in-process execution node for local runs and tests.
// It checks signatures and assigns real digests but runs no contract code.
type MemoryLedger struct {
	mu       sync.Mutex
	executed map[string]Execution
	failNext string
	dropNext error
}

var (
	_ mint.Executor = (*MemoryLedger)(nil)
	_ HealthChecker = (*MemoryLedger)(nil)
)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{executed: make(map[string]Execution)}
}

// FailNext makes the next executed transaction abort with reason.
func (l *MemoryLedger) FailNext(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = reason
}

// DropNext makes the next Execute fail at the transport level with err.
func (l *MemoryLedger) DropNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropNext = err
}

func (l *MemoryLedger) Execute(ctx context.Context, tx mint.SignedTransaction, opts mint.ExecuteOptions) (mint.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return mint.ExecutionResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dropNext != nil {
		err := l.dropNext
		l.dropNext = nil
		return mint.ExecutionResult{}, err
	}

	sender, err := intent.VerifySignature(tx.Bytes, tx.Signature)
	if err != nil {
		return mint.ExecutionResult{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	digest := intent.TransactionDigest(tx.Bytes)
	exec, ok := l.executed[digest]
	if !ok {
		exec = Execution{
			Digest:     digest,
			Sender:     sender,
			Success:    l.failNext == "",
			Error:      l.failNext,
			ExecutedAt: time.Now(),
		}
		exec.RawEffects = rawEffects(digest, exec.Success)
		l.executed[digest] = exec
		l.failNext = ""
	}

	res := mint.ExecutionResult{Digest: exec.Digest, Success: exec.Success, Error: exec.Error}
	if opts.ShowRawEffects {
		res.RawEffects = append([]byte(nil), exec.RawEffects...)
	}
	return res, nil
}

// Transaction looks up an executed transaction by digest.
func (l *MemoryLedger) Transaction(digest string) (Execution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exec, ok := l.executed[digest]
	return exec, ok
}

func (l *MemoryLedger) Ping(ctx context.Context) error {
	return ctx.Err()
}

// status byte followed by the digest bytes
func rawEffects(digest string, success bool) []byte {
	status := effectsStatusSuccess
	if !success {
		status = effectsStatusFailure
	}
	raw, _ := base58.Decode(digest)
	return append([]byte{status}, raw...)
}
