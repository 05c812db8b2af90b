package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SecretKeySize is the length of a raw secp256k1 secret key.
const SecretKeySize = 32

// Keypair is a freshly generated account key and the address it controls.
type Keypair struct {
	Address common.Address
	key     *ecdsa.PrivateKey
}

// Generate creates a new random keypair.
//
// The secret is drawn from the operating system CSPRNG. The address is the
// Keccak-256 derivation of the public key, rendered with the EIP-55 checksum
// by Address.Hex().
func Generate() (*Keypair, error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer sk.Zero()

	raw := sk.Serialize()
	defer clear(raw)

	key, err := gethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("convert key: %w", err)
	}
	return &Keypair{
		Address: gethcrypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}, nil
}

// PrivateKey returns the signing key.
func (k *Keypair) PrivateKey() *ecdsa.PrivateKey {
	return k.key
}

// SecretBytes returns the 32-byte big-endian secret. The caller owns the
// returned slice and should clear it when done.
func (k *Keypair) SecretBytes() []byte {
	return gethcrypto.FromECDSA(k.key)
}

// KeyFromSecret rebuilds a signing key from its raw 32-byte secret and
// returns it with the address it controls.
func KeyFromSecret(secret []byte) (*ecdsa.PrivateKey, common.Address, error) {
	if len(secret) != SecretKeySize {
		return nil, common.Address{}, fmt.Errorf("secret key must be %d bytes, got %d", SecretKeySize, len(secret))
	}
	key, err := gethcrypto.ToECDSA(secret)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse secret key: %w", err)
	}
	return key, gethcrypto.PubkeyToAddress(key.PublicKey), nil
}
