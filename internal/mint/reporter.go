package mint

import (
	"context"
	"sync"
)

// ReportFunc forwards serialized effects to the wallet that signed the payload.
type ReportFunc func(ctx context.Context, serializedEffects string) error

// EffectsReporter is a single-use handle for reporting effects back to a wallet.
type EffectsReporter struct {
	mu   sync.Mutex
	fn   ReportFunc
	used bool
}

// NewEffectsReporter wraps fn so it can be invoked at most once.
func NewEffectsReporter(fn ReportFunc) *EffectsReporter {
	return &EffectsReporter{fn: fn}
}

// Report calls the wrapped function the first time and fails afterwards.
func (r *EffectsReporter) Report(ctx context.Context, serializedEffects string) error {
	r.mu.Lock()
	if r.used {
		r.mu.Unlock()
		return ErrEffectsAlreadyReported
	}
	r.used = true
	fn := r.fn
	r.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, serializedEffects)
}

// Used reports whether Report has been called.
func (r *EffectsReporter) Used() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}
