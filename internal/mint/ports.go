package mint

import "context"

// Signer is the wallet capability. It may block for as long as the user takes
// to approve; a decline or a closed wallet comes back as an error.
type Signer interface {
	SignTransaction(ctx context.Context, tx UnsignedTransaction, network string) (SignedPayload, error)
}

// Executor submits signed transactions to an execution node. A non-nil error
// means no effects came back.
type Executor interface {
	Execute(ctx context.Context, tx SignedTransaction, opts ExecuteOptions) (ExecutionResult, error)
}

// Presenter receives the final outcome of every accepted attempt, once.
type Presenter interface {
	OnOutcome(Outcome)
}

// ProgressObserver is optionally implemented by a Presenter to follow
// intermediate states.
type ProgressObserver interface {
	OnStateChange(attemptID string, state State)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(Outcome)

func (f PresenterFunc) OnOutcome(o Outcome) { f(o) }
