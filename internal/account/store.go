package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/storage"
	"github.com/Klingon-tech/klingnet-bot/internal/wallet"
)

// record is the persisted form of an Account.
type record struct {
	Identity  string    `json:"identity"`
	Address   string    `json:"address"`
	SecretKey []byte    `json:"secret_key"`
	Sealed    bool      `json:"sealed"`
	CreatedAt time.Time `json:"created_at"`
}

// ResolveResult is returned by Resolve.
type ResolveResult struct {
	Account *Account
	// Created is true when this call generated the account.
	Created bool
}

// Store persists accounts keyed by identity.
type Store struct {
	db     storage.DB
	sealer wallet.Sealer
	locks  *keyedMutex
	now    func() time.Time
}

// NewStore creates an account store over db, which must hold nothing but
// account records (typically a storage.PrefixDB). A nil sealer stores
// secrets in plaintext.
func NewStore(db storage.DB, sealer wallet.Sealer) *Store {
	if sealer == nil {
		sealer = wallet.PlainSealer{}
	}
	return &Store{
		db:     db,
		sealer: sealer,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// Resolve returns the account for identity, creating it on first contact.
//
// Concurrent calls for the same identity are serialized in process, and the
// write itself is an insert-if-absent, so two processes sharing a database
// still end up agreeing on a single account.
func (s *Store) Resolve(ctx context.Context, identity string) (*ResolveResult, error) {
	if err := checkIdentity(identity); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(identity)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acct, err := s.load(identity)
	if err == nil {
		return &ResolveResult{Account: acct}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	kp, err := wallet.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	secret := kp.SecretBytes()
	defer clear(secret)

	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal account key: %w", err)
	}
	rec := record{
		Identity:  identity,
		Address:   kp.Address.Hex(),
		SecretKey: sealed,
		Sealed:    s.sealer.Sealing(),
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}

	inserted, err := s.db.PutIfAbsent(key(identity), data)
	if err != nil {
		return nil, fmt.Errorf("%w: store %s: %v", ErrStorage, Fingerprint(identity), err)
	}
	if !inserted {
		// Another process won the race; its account is the account.
		acct, err := s.load(identity)
		if err != nil {
			return nil, err
		}
		return &ResolveResult{Account: acct}, nil
	}

	log.Wallet.Info().
		Str("identity", Fingerprint(identity)).
		Str("address", rec.Address).
		Bool("sealed", rec.Sealed).
		Msg("Account created")

	return &ResolveResult{
		Account: &Account{
			Identity:  identity,
			Address:   kp.Address,
			CreatedAt: rec.CreatedAt,
			key:       kp.PrivateKey(),
		},
		Created: true,
	}, nil
}

// Get returns the account for identity without creating one.
func (s *Store) Get(ctx context.Context, identity string) (*Account, error) {
	if err := checkIdentity(identity); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load(identity)
}

// Count returns the number of stored accounts.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStorage, err)
	}
	return n, nil
}

func (s *Store) load(identity string) (*Account, error) {
	data, err := s.db.Get(key(identity))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrStorage, Fingerprint(identity), err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStorage, Fingerprint(identity), err)
	}
	if rec.Sealed != s.sealer.Sealing() {
		return nil, fmt.Errorf("%w: record sealed=%t", ErrSealingMismatch, rec.Sealed)
	}

	secret, err := s.sealer.Open(rec.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("open account key: %w", err)
	}
	defer clear(secret)

	priv, addr, err := wallet.KeyFromSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorage, Fingerprint(identity), err)
	}
	if !strings.EqualFold(addr.Hex(), rec.Address) {
		return nil, fmt.Errorf("%w: %s: stored address does not match key", ErrStorage, Fingerprint(identity))
	}

	return &Account{
		Identity:  rec.Identity,
		Address:   addr,
		CreatedAt: rec.CreatedAt,
		key:       priv,
	}, nil
}

func key(identity string) []byte {
	return []byte(identity)
}

func checkIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return ErrEmptyIdentity
	}
	return nil
}
