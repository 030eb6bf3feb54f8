package wallet

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"loyaltymint/internal/intent"
	"loyaltymint/internal/mint"

	"github.com/rs/zerolog"
)

// PendingTTL is how long a signed transaction waits for its effects. After
// that the node is assumed never to have seen it.
const PendingTTL = 15 * time.Minute

var (
	ErrUserRejected       = errors.New("user rejected the request")
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// KeypairSigner is an in-process development wallet. It plays the wallet's
// side of the trust boundary: the key stays inside this type.
type KeypairSigner struct {
	key     ed25519.PrivateKey
	address string
	logger  zerolog.Logger

	now func() time.Time

	mu       sync.Mutex
	declined bool
	pending  map[string]pendingTx
	reported map[string]string
}

type pendingTx struct {
	network  string
	signedAt time.Time
}

var _ mint.Signer = (*KeypairSigner)(nil)

// NewKeypairSigner wraps key.
func NewKeypairSigner(key ed25519.PrivateKey, logger zerolog.Logger) (*KeypairSigner, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length %d", len(key))
	}
	addr, err := intent.Address(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &KeypairSigner{
		key:      key,
		address:  addr,
		logger:   logger.With().Str("component", "keypair_wallet").Str("address", addr).Logger(),
		now:      time.Now,
		pending:  make(map[string]pendingTx),
		reported: make(map[string]string),
	}, nil
}

// NewKeypairSignerFromMnemonic derives the wallet key from a bip39 mnemonic.
func NewKeypairSignerFromMnemonic(mnemonic string, logger zerolog.Logger) (*KeypairSigner, error) {
	key, err := KeyFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	return NewKeypairSigner(key, logger)
}

// Address is the account that signs.
func (s *KeypairSigner) Address() string { return s.address }

// SetDeclined makes the wallet turn down every request until reset, as a user would.
func (s *KeypairSigner) SetDeclined(declined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined = declined
}

// SignTransaction stamps the sender, serializes tx and signs it.
func (s *KeypairSigner) SignTransaction(ctx context.Context, tx mint.UnsignedTransaction, network string) (mint.SignedPayload, error) {
	if err := ctx.Err(); err != nil {
		return mint.SignedPayload{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
	}
	if !strings.HasPrefix(network, "sui:") {
		return mint.SignedPayload{}, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}

	s.mu.Lock()
	declined := s.declined
	s.mu.Unlock()
	if declined {
		return mint.SignedPayload{}, ErrUserRejected
	}

	raw, err := tx.WithSender(s.address).Serialize()
	if err != nil {
		return mint.SignedPayload{}, fmt.Errorf("serialize transaction: %w", err)
	}
	sig := intent.Sign(s.key, raw)
	digest := intent.TransactionDigest(raw)

	now := s.now()
	s.mu.Lock()
	s.expirePending(now)
	s.pending[digest] = pendingTx{network: network, signedAt: now}
	s.mu.Unlock()
	s.logger.Debug().Str("digest", digest).Str("network", network).Msg("signed transaction")

	return mint.SignedPayload{
		Bytes:     raw,
		Signature: sig,
		Reporter: mint.NewEffectsReporter(func(_ context.Context, effects string) error {
			return s.settle(digest, effects)
		}),
	}, nil
}

func (s *KeypairSigner) settle(digest, effects string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[digest]; !ok {
		return fmt.Errorf("no pending transaction %s", digest)
	}
	delete(s.pending, digest)
	s.reported[digest] = effects
	return nil
}

// expirePending drops signed transactions older than PendingTTL. Caller holds s.mu.
func (s *KeypairSigner) expirePending(now time.Time) {
	for digest, p := range s.pending {
		if now.Sub(p.signedAt) > PendingTTL {
			s.logger.Warn().Str("digest", digest).Str("network", p.network).Msg("no effects reported, forgetting signed transaction")
			delete(s.pending, digest)
		}
	}
}

// Pending returns how many signed transactions are still waiting for effects.
func (s *KeypairSigner) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirePending(s.now())
	return len(s.pending)
}

// Reported returns the effects recorded for digest.
func (s *KeypairSigner) Reported(digest string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	effects, ok := s.reported[digest]
	return effects, ok
}
