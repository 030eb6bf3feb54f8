package node

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"loyaltymint/internal/intent"
	"loyaltymint/internal/mint"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func fullnode(t *testing.T, handle func(req rpcRequest) (any, map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := handle(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, url string, timeout time.Duration) *RPCClient {
	t.Helper()
	c, err := DialRPCClient(context.Background(), RPCClientConfig{URL: url, Timeout: timeout}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRPCClientExecuteSuccess(t *testing.T) {
	var got rpcRequest
	srv := fullnode(t, func(req rpcRequest) (any, map[string]any) {
		got = req
		return map[string]any{
			"digest":     "Dx1",
			"rawEffects": []int{1, 2, 3},
			"effects":    map[string]any{"status": map[string]any{"status": "success"}},
		}, nil
	})
	c := dial(t, srv.URL, time.Second)

	res, err := c.Execute(context.Background(), mint.SignedTransaction{Bytes: []byte("tx"), Signature: "sig"}, mint.DefaultExecuteOptions())
	require.NoError(t, err)
	assert.Equal(t, mint.ExecutionResult{Digest: "Dx1", RawEffects: []byte{1, 2, 3}, Success: true}, res)

	assert.Equal(t, methodExecute, got.Method)
	require.Len(t, got.Params, 4)
	var txB64 string
	require.NoError(t, json.Unmarshal(got.Params[0], &txB64))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("tx")), txB64)
	var sigs []string
	require.NoError(t, json.Unmarshal(got.Params[1], &sigs))
	assert.Equal(t, []string{"sig"}, sigs)
	var opts mint.ExecuteOptions
	require.NoError(t, json.Unmarshal(got.Params[2], &opts))
	assert.Equal(t, mint.DefaultExecuteOptions(), opts)
}

func TestRPCClientExecuteFailureStatus(t *testing.T) {
	srv := fullnode(t, func(rpcRequest) (any, map[string]any) {
		return map[string]any{
			"digest":     "Dx2",
			"rawEffects": []int{9},
			"effects": map[string]any{"status": map[string]any{
				"status": "failure",
				"error":  "MoveAbort(loyalty_card, 1)",
			}},
		}, nil
	})
	c := dial(t, srv.URL, time.Second)

	res, err := c.Execute(context.Background(), mint.SignedTransaction{Bytes: []byte("tx"), Signature: "sig"}, mint.DefaultExecuteOptions())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Dx2", res.Digest)
	assert.Equal(t, "MoveAbort(loyalty_card, 1)", res.Error)
}

func TestRPCClientMalformedResponses(t *testing.T) {
	cases := []map[string]any{
		{"rawEffects": []int{1}, "effects": map[string]any{"status": map[string]any{"status": "success"}}},
		{"digest": "D", "effects": map[string]any{"status": map[string]any{"status": "success"}}},
		{"digest": "D", "rawEffects": []int{300}, "effects": map[string]any{"status": map[string]any{"status": "success"}}},
		{"digest": "D", "rawEffects": []int{1}},
		{"digest": "D", "rawEffects": []int{1}, "effects": map[string]any{"status": map[string]any{"status": "pending"}}},
	}
	for _, body := range cases {
		body := body
		srv := fullnode(t, func(rpcRequest) (any, map[string]any) { return body, nil })
		c := dial(t, srv.URL, time.Second)
		_, err := c.Execute(context.Background(), mint.SignedTransaction{Bytes: []byte("tx"), Signature: "sig"}, mint.DefaultExecuteOptions())
		assert.ErrorIs(t, err, ErrMalformedResponse)
	}
}

func TestRPCClientIncompleteResponseKeepsEffects(t *testing.T) {
	srv := fullnode(t, func(rpcRequest) (any, map[string]any) {
		return map[string]any{"digest": "Dx9", "rawEffects": []int{7, 8}}, nil
	})
	c := dial(t, srv.URL, time.Second)

	_, err := c.Execute(context.Background(), mint.SignedTransaction{Bytes: []byte("tx"), Signature: "sig"}, mint.DefaultExecuteOptions())
	require.ErrorIs(t, err, ErrMalformedResponse)
	var partial *mint.IncompleteExecutionError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, "Dx9", partial.Digest)
	assert.Equal(t, []byte{7, 8}, partial.RawEffects)
}

type countingSigner struct {
	reports []string
}

func (s *countingSigner) SignTransaction(_ context.Context, tx mint.UnsignedTransaction, _ string) (mint.SignedPayload, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return mint.SignedPayload{}, err
	}
	return mint.SignedPayload{
		Bytes:     raw,
		Signature: "sig",
		Reporter: mint.NewEffectsReporter(func(_ context.Context, effects string) error {
			s.reports = append(s.reports, effects)
			return nil
		}),
	}, nil
}

func TestOrchestratorReportsEffectsFromIncompleteNodeAnswer(t *testing.T) {
	srv := fullnode(t, func(rpcRequest) (any, map[string]any) {
		return map[string]any{"digest": "Dx9", "rawEffects": []int{7, 8}}, nil
	})
	signer := &countingSigner{}
	target, err := mint.ParseTarget("pkg::loyalty_card::mint_loyalty")
	require.NoError(t, err)
	o, err := mint.NewOrchestrator(mint.Config{
		Target:   target,
		Network:  "sui:testnet",
		Signer:   signer,
		Executor: dial(t, srv.URL, time.Second),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	outcome, err := o.Mint(context.Background(), mint.Request{RecipientAddress: "0x1", ImageURI: "u"})
	require.ErrorIs(t, err, mint.ErrNetworkError)
	assert.Equal(t, "Dx9", outcome.Digest)
	assert.Equal(t, []string{"[7,8]"}, signer.reports)
}

func TestRPCClientNodeError(t *testing.T) {
	srv := fullnode(t, func(rpcRequest) (any, map[string]any) {
		return nil, map[string]any{"code": -32002, "message": "Invalid user signature"}
	})
	c := dial(t, srv.URL, time.Second)

	_, err := c.Execute(context.Background(), mint.SignedTransaction{Bytes: []byte("tx"), Signature: "sig"}, mint.DefaultExecuteOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid user signature")
}

func TestRPCClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := dial(t, srv.URL, 20*time.Millisecond)
	_, err := c.Execute(context.Background(), mint.SignedTransaction{Bytes: []byte("tx"), Signature: "sig"}, mint.DefaultExecuteOptions())
	assert.Error(t, err)
}

func TestRPCClientPing(t *testing.T) {
	srv := fullnode(t, func(req rpcRequest) (any, map[string]any) {
		if req.Method != methodCheckpoint {
			return nil, map[string]any{"code": -32601, "message": "method not found"}
		}
		return "12345", nil
	})
	c := dial(t, srv.URL, time.Second)
	assert.NoError(t, c.Ping(context.Background()))
}

func signed(t *testing.T, payload string) mint.SignedTransaction {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	key := ed25519.NewKeyFromSeed(seed)
	raw := []byte(payload)
	return mint.SignedTransaction{Bytes: raw, Signature: intent.Sign(key, raw)}
}

func TestMemoryLedgerExecutes(t *testing.T) {
	l := NewMemoryLedger()
	tx := signed(t, `{"version":2}`)

	res, err := l.Execute(context.Background(), tx, mint.DefaultExecuteOptions())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, intent.TransactionDigest(tx.Bytes), res.Digest)
	require.Len(t, res.RawEffects, 33)
	assert.Equal(t, effectsStatusSuccess, res.RawEffects[0])

	exec, ok := l.Transaction(res.Digest)
	require.True(t, ok)
	assert.NotEmpty(t, exec.Sender)

	again, err := l.Execute(context.Background(), tx, mint.DefaultExecuteOptions())
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestMemoryLedgerScriptedFailures(t *testing.T) {
	l := NewMemoryLedger()

	l.FailNext("MoveAbort")
	res, err := l.Execute(context.Background(), signed(t, "a"), mint.DefaultExecuteOptions())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "MoveAbort", res.Error)
	assert.Equal(t, effectsStatusFailure, res.RawEffects[0])

	drop := errors.New("connection reset")
	l.DropNext(drop)
	_, err = l.Execute(context.Background(), signed(t, "b"), mint.DefaultExecuteOptions())
	assert.ErrorIs(t, err, drop)

	res, err = l.Execute(context.Background(), signed(t, "b"), mint.ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.RawEffects)
}

func TestMemoryLedgerRejectsBadSignature(t *testing.T) {
	l := NewMemoryLedger()
	tx := signed(t, "a")
	tx.Bytes = []byte("b")

	_, err := l.Execute(context.Background(), tx, mint.DefaultExecuteOptions())
	assert.ErrorIs(t, err, ErrRejected)
}
