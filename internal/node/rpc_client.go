package node

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"loyaltymint/internal/mint"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

const (
	methodExecute    = "sui_executeTransactionBlock"
	methodCheckpoint = "sui_getLatestCheckpointSequenceNumber"

	requestTypeLocalExecution = "WaitForLocalExecution"
)

// RPCClient submits transactions to a fullnode over JSON-RPC.
type RPCClient struct {
	client  *rpc.Client
	timeout time.Duration
	logger  zerolog.Logger
}

var (
	_ mint.Executor = (*RPCClient)(nil)
	_ HealthChecker = (*RPCClient)(nil)
)

type RPCClientConfig struct {
	URL string
	// Timeout bounds each call; zero means no deadline of our own.
	Timeout time.Duration
}

type executeResponse struct {
	Digest     string           `json:"digest"`
	RawEffects []int            `json:"rawEffects"`
	Effects    *effectsResponse `json:"effects"`
}

type effectsResponse struct {
	Status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"status"`
}

func DialRPCClient(ctx context.Context, cfg RPCClientConfig, logger zerolog.Logger) (*RPCClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &RPCClient{
		client:  cli,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "node_rpc").Str("url", cfg.URL).Logger(),
	}, nil
}

func (c *RPCClient) Close() {
	c.client.Close()
}

// Execute submits tx and waits for the node to execute it.
func (c *RPCClient) Execute(ctx context.Context, tx mint.SignedTransaction, opts mint.ExecuteOptions) (mint.ExecutionResult, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var resp executeResponse
	err := c.client.CallContext(ctx, &resp, methodExecute,
		base64.StdEncoding.EncodeToString(tx.Bytes),
		[]string{tx.Signature},
		opts,
		requestTypeLocalExecution,
	)
	if err != nil {
		return mint.ExecutionResult{}, fmt.Errorf("execute transaction: %w", err)
	}

	res, err := decodeExecuteResponse(resp)
	if err != nil {
		return mint.ExecutionResult{}, err
	}
	c.logger.Debug().Str("digest", res.Digest).Bool("success", res.Success).Msg("transaction executed")
	return res, nil
}

// decodeExecuteResponse validates a node answer. When digest and raw effects
// decoded but the rest did not, the error is a *mint.IncompleteExecutionError
// carrying them.
func decodeExecuteResponse(resp executeResponse) (mint.ExecutionResult, error) {
	raw := make([]byte, len(resp.RawEffects))
	for i, v := range resp.RawEffects {
		if v < 0 || v > 255 {
			return mint.ExecutionResult{}, fmt.Errorf("%w: raw effect byte %d out of range", ErrMalformedResponse, v)
		}
		raw[i] = byte(v)
	}
	incomplete := func(detail string) error {
		err := fmt.Errorf("%w: %s", ErrMalformedResponse, detail)
		if resp.Digest == "" && len(raw) == 0 {
			return err
		}
		return &mint.IncompleteExecutionError{Digest: resp.Digest, RawEffects: raw, Err: err}
	}

	if resp.Digest == "" {
		return mint.ExecutionResult{}, incomplete("missing digest")
	}
	if len(raw) == 0 {
		return mint.ExecutionResult{}, incomplete("missing raw effects")
	}
	if resp.Effects == nil {
		return mint.ExecutionResult{}, incomplete("missing effects")
	}

	res := mint.ExecutionResult{Digest: resp.Digest, RawEffects: raw}
	switch resp.Effects.Status.Status {
	case "success":
		res.Success = true
	case "failure":
		res.Error = resp.Effects.Status.Error
	default:
		return mint.ExecutionResult{}, incomplete(fmt.Sprintf("unknown status %q", resp.Effects.Status.Status))
	}
	return res, nil
}

// Ping asks the node for its latest checkpoint.
func (c *RPCClient) Ping(ctx context.Context) error {
	var seq string
	return c.client.CallContext(ctx, &seq, methodCheckpoint)
}
