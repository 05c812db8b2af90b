package wallet

import (
	"bytes"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerate(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	secret := kp.SecretBytes()
	if len(secret) != SecretKeySize {
		t.Fatalf("secret length = %d, want %d", len(secret), SecretKeySize)
	}
	if got := gethcrypto.PubkeyToAddress(kp.PrivateKey().PublicKey); got != kp.Address {
		t.Errorf("address %s does not match key (%s)", kp.Address.Hex(), got.Hex())
	}
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		kp, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		addr := kp.Address.Hex()
		if seen[addr] {
			t.Fatalf("duplicate address %s after %d keys", addr, i)
		}
		seen[addr] = true
	}
}

func TestKeyFromSecret_KnownVector(t *testing.T) {
	secret := make([]byte, SecretKeySize)
	secret[31] = 1

	_, addr, err := KeyFromSecret(secret)
	if err != nil {
		t.Fatalf("KeyFromSecret() error: %v", err)
	}
	if want := "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"; addr.Hex() != want {
		t.Errorf("address = %s, want %s", addr.Hex(), want)
	}
}

func TestKeyFromSecret_Roundtrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	key, addr, err := KeyFromSecret(kp.SecretBytes())
	if err != nil {
		t.Fatalf("KeyFromSecret() error: %v", err)
	}
	if addr != kp.Address {
		t.Errorf("address = %s, want %s", addr.Hex(), kp.Address.Hex())
	}
	if !bytes.Equal(gethcrypto.FromECDSA(key), kp.SecretBytes()) {
		t.Error("rebuilt key differs from original")
	}
}

func TestKeyFromSecret_BadLength(t *testing.T) {
	if _, _, err := KeyFromSecret(make([]byte, 31)); err == nil {
		t.Error("KeyFromSecret() should reject a 31-byte secret")
	}
	if _, _, err := KeyFromSecret(make([]byte, SecretKeySize)); err == nil {
		t.Error("KeyFromSecret() should reject the zero secret")
	}
}
