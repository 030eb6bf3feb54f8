// Package intent holds the ledger's signing and digest primitives: intent
// messages, serialized ed25519 signatures, addresses and transaction digests.
package intent

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

// FlagEd25519 prefixes ed25519 public keys and signatures.
const FlagEd25519 byte = 0x00

const digestDomain = "TransactionData::"

var (
	ErrMalformedSignature  = errors.New("malformed signature")
	ErrUnsupportedScheme   = errors.New("unsupported signature scheme")
	ErrSignatureMismatch   = errors.New("signature does not match transaction")
	ErrInvalidPublicKeyLen = errors.New("invalid ed25519 public key length")
)

// transaction data, version 0, app id 0
var transactionIntent = [3]byte{0, 0, 0}

// Message prefixes tx bytes with the transaction intent.
func Message(txBytes []byte) []byte {
	out := make([]byte, 0, len(transactionIntent)+len(txBytes))
	out = append(out, transactionIntent[:]...)
	return append(out, txBytes...)
}

// SigningDigest is the 32-byte value a wallet signs for txBytes.
func SigningDigest(txBytes []byte) [32]byte {
	return blake2b.Sum256(Message(txBytes))
}

// Sign signs txBytes with key and returns the serialized signature.
func Sign(key ed25519.PrivateKey, txBytes []byte) string {
	digest := SigningDigest(txBytes)
	sig := ed25519.Sign(key, digest[:])
	return SerializeSignature(key.Public().(ed25519.PublicKey), sig)
}

// SerializeSignature encodes flag || sig || pub as base64.
func SerializeSignature(pub ed25519.PublicKey, sig []byte) string {
	buf := make([]byte, 0, 1+len(sig)+len(pub))
	buf = append(buf, FlagEd25519)
	buf = append(buf, sig...)
	buf = append(buf, pub...)
	return base64.StdEncoding.EncodeToString(buf)
}

// ParseSignature splits a serialized signature into its public key and raw signature.
func ParseSignature(serialized string) (ed25519.PublicKey, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(raw))
	}
	if raw[0] != FlagEd25519 {
		return nil, nil, fmt.Errorf("%w: flag 0x%02x", ErrUnsupportedScheme, raw[0])
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	return pub, sig, nil
}

// VerifySignature checks serialized against txBytes and returns the signer address.
func VerifySignature(txBytes []byte, serialized string) (string, error) {
	pub, sig, err := ParseSignature(serialized)
	if err != nil {
		return "", err
	}
	digest := SigningDigest(txBytes)
	if !ed25519.Verify(pub, digest[:], sig) {
		return "", ErrSignatureMismatch
	}
	return Address(pub)
}

// Address derives the ledger address of an ed25519 public key.
func Address(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: %d", ErrInvalidPublicKeyLen, len(pub))
	}
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, FlagEd25519)
	buf = append(buf, pub...)
	h := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(h[:]), nil
}

// TransactionDigest returns the base58 digest the ledger assigns to txBytes.
func TransactionDigest(txBytes []byte) string {
	buf := make([]byte, 0, len(digestDomain)+len(txBytes))
	buf = append(buf, digestDomain...)
	buf = append(buf, txBytes...)
	h := blake2b.Sum256(buf)
	return base58.Encode(h[:])
}
