package mint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	errMissingReporter   = errors.New("wallet returned no effects reporter")
	errMalformedResponse = errors.New("execution node returned no digest or raw effects")
)

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Target    ContractTarget
	Network   string
	Signer    Signer
	Executor  Executor
	Presenter Presenter
	Logger    zerolog.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator runs one mint at a time through build, sign, submit and
// report-effects.
type Orchestrator struct {
	target    ContractTarget
	network   string
	signer    Signer
	executor  Executor
	presenter Presenter
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	inFlight bool
	state    State
	current  Outcome
	last     Outcome
	hasLast  bool
}

// NewOrchestrator validates cfg and returns an idle orchestrator.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if strings.TrimSpace(cfg.Network) == "" {
		return nil, errors.New("network is required")
	}
	if err := cfg.Target.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		target:    cfg.Target,
		network:   cfg.Network,
		signer:    cfg.Signer,
		executor:  cfg.Executor,
		presenter: cfg.Presenter,
		logger:    cfg.Logger.With().Str("component", "mint_orchestrator").Logger(),
		now:       cfg.Now,
		newID:     cfg.NewID,
		state:     StateIdle,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o, nil
}

// Target returns the contract entry point this orchestrator calls.
func (o *Orchestrator) Target() ContractTarget { return o.target }

// Network returns the network id passed to the wallet.
func (o *Orchestrator) Network() string { return o.network }

// State returns the pipeline step currently executing.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Current returns the in-flight attempt, if any.
func (o *Orchestrator) Current() (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.inFlight
}

// Last returns the most recent finished attempt.
func (o *Orchestrator) Last() (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.hasLast
}

// Mint runs a full attempt for req and returns its terminal outcome. The
// returned error is the *Error of a failed outcome and wraps the cause
// reported by the failing collaborator.
//
// ctx governs the signing step only. Once the transaction is submitted the
// attempt always runs to completion.
func (o *Orchestrator) Mint(ctx context.Context, req Request) (Outcome, error) {
	o.mu.Lock()
	if o.inFlight {
		busy := o.current
		state := o.state
		o.mu.Unlock()

		now := o.now()
		rejected := Outcome{
			Status:     StatusFailed,
			Reason:     ReasonAlreadyInFlight,
			Detail:     fmt.Sprintf("attempt %s is %s", busy.AttemptID, state),
			StartedAt:  now,
			FinishedAt: now,
		}
		o.logger.Debug().Str("busy_attempt", busy.AttemptID).Msg("mint rejected, attempt in flight")
		return rejected, rejected.Err()
	}
	attempt := Outcome{
		AttemptID:      o.newID(),
		IdempotencyKey: req.IdempotencyKey,
		Status:         StatusPending,
		StartedAt:      o.now(),
	}
	o.inFlight = true
	o.current = attempt
	o.mu.Unlock()

	outcome, failure := o.runRecovering(ctx, attempt, req)
	o.finish(outcome)
	if failure != nil {
		return outcome, failure
	}
	return outcome, nil
}

// runRecovering turns a panicking collaborator into a failed outcome so the
// in-flight flag is always released.
func (o *Orchestrator) runRecovering(ctx context.Context, attempt Outcome, req Request) (outcome Outcome, failure *Error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		state := o.State()
		o.logger.Error().
			Str("attempt", attempt.AttemptID).
			Str("state", string(state)).
			Interface("panic", r).
			Msg("mint step panicked")
		outcome, failure = o.fail(attempt, &Error{
			Reason: panicReason(state),
			Detail: fmt.Sprintf("panic during %s: %v", state, r),
			Err:    fmt.Errorf("panic: %v", r),
		})
	}()
	return o.run(ctx, attempt, req)
}

func panicReason(state State) Reason {
	switch state {
	case StateBuilding:
		return ReasonInvalidRequest
	case StateAwaitingSignature:
		return ReasonSigningRejected
	default:
		return ReasonNetworkError
	}
}

func (o *Orchestrator) run(ctx context.Context, attempt Outcome, req Request) (Outcome, *Error) {
	o.transition(attempt.AttemptID, StateBuilding)
	tx, err := Build(req, o.target)
	if err != nil {
		return o.fail(attempt, asError(err, ReasonInvalidRequest))
	}

	o.transition(attempt.AttemptID, StateAwaitingSignature)
	payload, err := o.signer.SignTransaction(ctx, tx, o.network)
	if err != nil {
		return o.fail(attempt, newError(ReasonSigningRejected, err))
	}
	if payload.Reporter == nil {
		return o.fail(attempt, newError(ReasonSigningRejected, errMissingReporter))
	}

	o.transition(attempt.AttemptID, StateSubmitting)
	execCtx := context.WithoutCancel(ctx)
	res, err := o.executor.Execute(execCtx, SignedTransaction{
		Bytes:     payload.Bytes,
		Signature: payload.Signature,
	}, DefaultExecuteOptions())
	if err != nil {
		failure := newError(ReasonNetworkError, err)
		var partial *IncompleteExecutionError
		if errors.As(err, &partial) {
			failure.Digest = partial.Digest
			o.reportEffects(execCtx, attempt.AttemptID, payload.Reporter, partial.Digest, partial.RawEffects)
		}
		return o.fail(attempt, failure)
	}
	if res.Digest == "" || len(res.RawEffects) == 0 {
		failure := newError(ReasonNetworkError, errMalformedResponse)
		failure.Digest = res.Digest
		o.reportEffects(execCtx, attempt.AttemptID, payload.Reporter, res.Digest, res.RawEffects)
		return o.fail(attempt, failure)
	}

	o.reportEffects(execCtx, attempt.AttemptID, payload.Reporter, res.Digest, res.RawEffects)

	if !res.Success {
		detail := res.Error
		if detail == "" {
			detail = "transaction aborted"
		}
		return o.fail(attempt, &Error{Reason: ReasonExecutionFailed, Detail: detail, Digest: res.Digest})
	}

	attempt.Status = StatusSucceeded
	attempt.Digest = res.Digest
	attempt.FinishedAt = o.now()
	return attempt, nil
}

// reportEffects hands raw effects to the wallet. Nothing is reported when
// the node returned none. A wallet that refuses them does not change the outcome.
func (o *Orchestrator) reportEffects(ctx context.Context, attemptID string, reporter *EffectsReporter, digest string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	o.transition(attemptID, StateReportingEffects)
	err := reporter.Report(ctx, SerializeEffects(raw))
	switch {
	case err == nil:
	case errors.Is(err, ErrEffectsAlreadyReported):
		o.logger.Error().Str("attempt", attemptID).Str("digest", digest).Msg("effects reporter was used before the orchestrator reported")
	default:
		o.logger.Warn().Err(err).Str("attempt", attemptID).Str("digest", digest).Msg("wallet did not accept effects")
	}
}

func (o *Orchestrator) fail(attempt Outcome, e *Error) (Outcome, *Error) {
	attempt.Status = StatusFailed
	attempt.Reason = e.Reason
	attempt.Detail = e.Detail
	attempt.Digest = e.Digest
	attempt.FinishedAt = o.now()
	return attempt, e
}

func (o *Orchestrator) transition(attemptID string, next State) {
	o.mu.Lock()
	o.state = next
	o.mu.Unlock()

	o.logger.Debug().Str("attempt", attemptID).Str("state", string(next)).Msg("mint state")
	if obs, ok := o.presenter.(ProgressObserver); ok {
		obs.OnStateChange(attemptID, next)
	}
}

func (o *Orchestrator) finish(outcome Outcome) {
	o.transition(outcome.AttemptID, StateDone)

	o.mu.Lock()
	o.last = outcome
	o.hasLast = true
	o.current = Outcome{}
	o.inFlight = false
	o.state = StateIdle
	o.mu.Unlock()

	ev := o.logger.Info()
	if outcome.Status == StatusFailed {
		ev = o.logger.Warn().Str("reason", string(outcome.Reason)).Str("detail", outcome.Detail)
	}
	ev.Str("attempt", outcome.AttemptID).
		Str("digest", outcome.Digest).
		Dur("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)).
		Msg("mint finished")

	if o.presenter != nil {
		o.presenter.OnOutcome(outcome)
	}
}

func asError(err error, fallback Reason) *Error {
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	return newError(fallback, err)
}
