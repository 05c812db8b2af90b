package wallet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer protects secret keys at rest. Account records remember whether
// their secret was sealed so a store can refuse to mix modes.
type Sealer interface {
	Seal(secret []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
	// Sealing reports whether Seal actually encrypts.
	Sealing() bool
}

// NewSealer returns a passphrase sealer, or a PlainSealer when passphrase
// is empty.
func NewSealer(passphrase []byte, params EncryptionParams) Sealer {
	if len(passphrase) == 0 {
		return PlainSealer{}
	}
	return &PassphraseSealer{
		passphrase: append([]byte(nil), passphrase...),
		params:     params,
	}
}

// PlainSealer stores secrets unmodified.
type PlainSealer struct{}

func (PlainSealer) Seal(secret []byte) ([]byte, error) { return append([]byte(nil), secret...), nil }
func (PlainSealer) Open(sealed []byte) ([]byte, error) { return append([]byte(nil), sealed...), nil }
func (PlainSealer) Sealing() bool                      { return false }

// Encryption constants.
const (
	SaltSize = 32
	// Sealed format: [salt(32)][memory(4)][iterations(4)][parallelism(1)][nonce(24)][ciphertext...]
	headerSize = SaltSize + 4 + 4 + 1

	maxMemoryKiB = 4 * 1024 * 1024
)

// EncryptionParams holds Argon2id parameters.
type EncryptionParams struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns recommended Argon2id parameters.
func DefaultParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// PassphraseSealer encrypts secrets with Argon2id + XChaCha20-Poly1305.
// Each Seal draws a fresh salt, so key derivation runs once per call.
type PassphraseSealer struct {
	passphrase []byte
	params     EncryptionParams
}

func (s *PassphraseSealer) Sealing() bool { return true }

// Seal encrypts secret.
//
// Output format: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
func (s *PassphraseSealer) Seal(secret []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(s.passphrase, salt, s.params)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, headerSize+len(nonce)+len(secret)+aead.Overhead())
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, s.params.Memory)
	out = binary.LittleEndian.AppendUint32(out, s.params.Iterations)
	out = append(out, s.params.Parallelism)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, secret, nil), nil
}

// Open decrypts data produced by Seal. The Argon2 parameters are read back
// from the header, so changing DefaultParams does not strand old records.
func (s *PassphraseSealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	minSize := headerSize + nonceSize + chacha20poly1305.Overhead
	if len(sealed) < minSize {
		return nil, fmt.Errorf("sealed data too short: %d bytes, need at least %d", len(sealed), minSize)
	}

	salt := sealed[:SaltSize]
	params := EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(sealed[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(sealed[SaltSize+4:]),
		Parallelism: sealed[SaltSize+8],
	}
	if params.Iterations == 0 || params.Parallelism == 0 || params.Memory > maxMemoryKiB {
		return nil, fmt.Errorf("sealed header has unusable argon2 params %+v", params)
	}
	nonce := sealed[headerSize : headerSize+nonceSize]
	ciphertext := sealed[headerSize+nonceSize:]

	key := deriveKey(s.passphrase, salt, params)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// deriveKey uses Argon2id to derive a 32-byte encryption key from passphrase and salt.
func deriveKey(passphrase, salt []byte, params EncryptionParams) []byte {
	return argon2.IDKey(
		passphrase,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		chacha20poly1305.KeySize,
	)
}
