package wallet

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

var (
	ErrMnemonicRequired = errors.New("mnemonic is required")
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
)

const hardenedOffset = 0x80000000

// DerivationPath is m/44'/784'/0'/0'/0', the first ed25519 account.
var DerivationPath = []uint32{44, 784, 0, 0, 0}

// GenerateMnemonic returns a fresh 24-word mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// KeyFromMnemonic derives the ed25519 key at DerivationPath.
func KeyFromMnemonic(mnemonic string) (ed25519.PrivateKey, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	return deriveEd25519(seed, DerivationPath), nil
}

// SLIP-0010: ed25519 only supports hardened children.
func deriveEd25519(seed []byte, path []uint32) ed25519.PrivateKey {
	key, chain := hmacSplit([]byte("ed25519 seed"), seed)
	for _, index := range path {
		data := make([]byte, 0, 1+32+4)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index+hardenedOffset)
		key, chain = hmacSplit(chain, data)
	}
	return ed25519.NewKeyFromSeed(key)
}

func hmacSplit(key, data []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, key)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}
