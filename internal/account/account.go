// Package account maps chat identities to custodial accounts.
//
// Each identity owns exactly one account for its whole lifetime. The secret
// key never leaves this package except through Account.SigningKey.
package account

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// Account errors.
var (
	ErrNotFound        = errors.New("account not found")
	ErrEmptyIdentity   = errors.New("empty identity")
	ErrStorage         = errors.New("account storage failure")
	ErrSealingMismatch = errors.New("account secret sealing mode does not match store")
)

// Account is a custodial account bound to one chat identity.
type Account struct {
	Identity  string
	Address   common.Address
	CreatedAt time.Time

	key *ecdsa.PrivateKey
}

// SigningKey returns the key that authorizes transfers from Address.
func (a *Account) SigningKey() *ecdsa.PrivateKey {
	return a.key
}

// String identifies the account without exposing its secret.
func (a *Account) String() string {
	return fmt.Sprintf("account(%s %s)", Fingerprint(a.Identity), a.Address.Hex())
}

// MarshalText keeps the secret out of any log or JSON encoding that
// picks up an Account by accident.
func (a *Account) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Fingerprint returns a short stable token for an identity, used in logs so
// raw chat ids stay out of them.
func Fingerprint(identity string) string {
	sum := blake3.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:6])
}
