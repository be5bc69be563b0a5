// Package wallet provides the signing capability used to authorize bridge
// requests.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNotConnected is returned when no signing key is configured.
var ErrNotConnected = errors.New("wallet not connected")

// Provider is a connected wallet
type Provider interface {
	Address() common.Address
	// SignMessage returns a 65-byte EIP-191 personal_sign signature.
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// Signer hands out the connected wallet, if any
type Signer interface {
	Provider(ctx context.Context) (Provider, error)
}

// Disconnected is a Signer with no wallet.
type Disconnected struct{}

func (Disconnected) Provider(context.Context) (Provider, error) {
	return nil, ErrNotConnected
}

// KeySigner signs with an in-memory secp256k1 key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet private key: %w", err)
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// FromPrivateKey returns a KeySigner for hexKey, or Disconnected when hexKey
// is empty.
func FromPrivateKey(hexKey string) (Signer, error) {
	if strings.TrimSpace(hexKey) == "" {
		return Disconnected{}, nil
	}
	return NewKeySigner(hexKey)
}

func (k *KeySigner) Provider(context.Context) (Provider, error) {
	return k, nil
}

func (k *KeySigner) Address() common.Address {
	return k.address
}

func (k *KeySigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(TextHash(message).Bytes(), k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	// personal_sign convention: v is 27 or 28
	sig[64] += 27
	return sig, nil
}

// TextHash is the EIP-191 personal message hash.
func TextHash(message []byte) common.Hash {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256Hash([]byte(prefixed))
}

// VerifyMessage recovers the signer address of an EIP-191 signature
func VerifyMessage(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: expected %d, got %d", crypto.SignatureLength, len(signature))
	}

	sig := append([]byte(nil), signature...)
	// v can be 0, 1, 27, or 28 - normalize to 0 or 1
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(TextHash(message).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
