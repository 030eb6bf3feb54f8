package node

import (
	"context"
	"errors"
)

var (
	// ErrMalformedResponse is returned when the node answered without usable effects.
	ErrMalformedResponse = errors.New("malformed execution response")
	// ErrRejected is returned when the node refuses a transaction before executing it.
	ErrRejected = errors.New("transaction rejected by node")
)

// HealthChecker is implemented by executors that can check their node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
