package wallet

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"loyaltymint/internal/mint"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// userRejectedCode is the JSON-RPC error code wallets use for a declined request.
const userRejectedCode = 4001

// RemoteSigner forwards signing to an external wallet bridge over JSON-RPC.
type RemoteSigner struct {
	client *rpc.Client
	logger zerolog.Logger
}

var _ mint.Signer = (*RemoteSigner)(nil)

type signTransactionParams struct {
	Transaction mint.UnsignedTransaction `json:"transaction"`
	Chain       string                   `json:"chain"`
}

type signTransactionResult struct {
	Bytes     string `json:"bytes"`
	Signature string `json:"signature"`
}

type reportEffectsParams struct {
	Bytes   string `json:"bytes"`
	Effects string `json:"effects"`
}

// DialRemoteSigner connects to the wallet bridge at url.
func DialRemoteSigner(ctx context.Context, url string, logger zerolog.Logger) (*RemoteSigner, error) {
	if url == "" {
		return nil, fmt.Errorf("wallet bridge url is required")
	}
	cli, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet bridge: %w", err)
	}
	return &RemoteSigner{
		client: cli,
		logger: logger.With().Str("component", "remote_wallet").Logger(),
	}, nil
}

// Close releases the connection.
func (r *RemoteSigner) Close() {
	r.client.Close()
}

// SignTransaction asks the bridge to sign tx. The call blocks until the
// user answers in the wallet.
func (r *RemoteSigner) SignTransaction(ctx context.Context, tx mint.UnsignedTransaction, network string) (mint.SignedPayload, error) {
	r.logger.Debug().Str("network", network).Msg("requesting wallet signature")

	var res signTransactionResult
	err := r.client.CallContext(ctx, &res, "wallet_signTransaction", signTransactionParams{
		Transaction: tx,
		Chain:       network,
	})
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
			return mint.SignedPayload{}, fmt.Errorf("%w: %s", ErrUserRejected, rpcErr.Error())
		}
		return mint.SignedPayload{}, fmt.Errorf("wallet sign: %w", err)
	}
	if res.Bytes == "" || res.Signature == "" {
		return mint.SignedPayload{}, fmt.Errorf("wallet sign: empty bytes or signature")
	}
	raw, err := base64.StdEncoding.DecodeString(res.Bytes)
	if err != nil {
		return mint.SignedPayload{}, fmt.Errorf("wallet sign: decode bytes: %w", err)
	}

	encoded := res.Bytes
	return mint.SignedPayload{
		Bytes:     raw,
		Signature: res.Signature,
		Reporter: mint.NewEffectsReporter(func(ctx context.Context, effects string) error {
			err := r.client.CallContext(ctx, nil, "wallet_reportTransactionEffects", reportEffectsParams{
				Bytes:   encoded,
				Effects: effects,
			})
			if err != nil {
				return fmt.Errorf("wallet report effects: %w", err)
			}
			return nil
		}),
	}, nil
}
