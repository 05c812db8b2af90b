// Package conversation tracks per-identity prompts that capture the next
// inbound message instead of letting it run as a command.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
	"github.com/Klingon-tech/klingnet-bot/internal/metrics"
	"github.com/Klingon-tech/klingnet-bot/internal/storage"
)

// Kind is what a pending prompt expects as the reply.
type Kind string

// Prompt kinds.
const (
	KindWithdrawAddress Kind = "awaiting_withdraw_address"
)

// State is the conversation state of one identity.
type State string

// States.
const (
	StateIdle                    State = "idle"
	StateAwaitingWithdrawAddress State = State(KindWithdrawAddress)
)

// PendingPrompt marks that the next message from Identity answers a prompt.
type PendingPrompt struct {
	Identity  string    `json:"identity"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Machine stores at most one PendingPrompt per identity.
type Machine struct {
	db      storage.DB
	ttl     time.Duration
	metrics *metrics.BotMetrics
	now     func() time.Time

	mu sync.Mutex
}

// Options configures a Machine.
type Options struct {
	// TTL expires prompts older than this. Zero keeps them until consumed.
	TTL     time.Duration
	Metrics *metrics.BotMetrics
}

// New creates a Machine over db, which must be dedicated to prompts
// (typically a storage.PrefixDB).
// Prompts already in db are counted into the pending-prompt gauge.
func New(db storage.DB, opts Options) *Machine {
	m := &Machine{
		db:      db,
		ttl:     opts.TTL,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	if m.metrics != nil {
		m.seedMetrics()
	}
	return m
}

// seedMetrics counts stored prompts, expired ones included, since Take
// closes those too.
func (m *Machine) seedMetrics() {
	n := 0
	err := m.db.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	if err != nil {
		klog.Bot.Warn().Err(err).Msg("Counting stored prompts failed")
		return
	}
	m.metrics.SetPendingPrompts(n)
	if n > 0 {
		klog.Bot.Info().Int("prompts", n).Msg("Pending prompts restored")
	}
}

// Begin opens a prompt for identity, replacing any prompt already open.
func (m *Machine) Begin(ctx context.Context, identity string, kind Kind) (*PendingPrompt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := &PendingPrompt{
		Identity:  identity,
		Kind:      kind,
		CreatedAt: m.now().UTC(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existed, err := m.db.Has([]byte(identity))
	if err != nil {
		return nil, fmt.Errorf("check prompt: %w", err)
	}
	if err := m.db.Put([]byte(identity), data); err != nil {
		return nil, fmt.Errorf("store prompt: %w", err)
	}
	if !existed {
		m.metrics.PromptOpened()
	}

	klog.Bot.Debug().
		Str("identity", account.Fingerprint(identity)).
		Str("kind", string(kind)).
		Bool("replaced", existed).
		Msg("Prompt opened")
	return p, nil
}

// Take consumes the prompt for identity. It returns false when nothing is
// pending, including when the prompt outlived the TTL; an expired prompt
// is deleted all the same.
func (m *Machine) Take(ctx context.Context, identity string) (*PendingPrompt, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(identity)
	if err != nil || p == nil {
		return nil, false, err
	}
	if err := m.db.Delete([]byte(identity)); err != nil {
		return nil, false, fmt.Errorf("delete prompt: %w", err)
	}
	m.metrics.PromptClosed()

	if m.expired(p) {
		klog.Bot.Debug().
			Str("identity", account.Fingerprint(identity)).
			Dur("age", m.now().Sub(p.CreatedAt)).
			Msg("Prompt expired")
		return nil, false, nil
	}
	return p, true, nil
}

// Clear drops any prompt for identity and reports whether one was open.
func (m *Machine) Clear(ctx context.Context, identity string) (bool, error) {
	_, ok, err := m.Take(ctx, identity)
	return ok, err
}

// State reports the conversation state of identity without consuming
// anything.
func (m *Machine) State(ctx context.Context, identity string) (State, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(identity)
	if err != nil {
		return "", err
	}
	if p == nil || m.expired(p) {
		return StateIdle, nil
	}
	return State(p.Kind), nil
}

func (m *Machine) load(identity string) (*PendingPrompt, error) {
	data, err := m.db.Get([]byte(identity))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}
	var p PendingPrompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode prompt: %w", err)
	}
	return &p, nil
}

func (m *Machine) expired(p *PendingPrompt) bool {
	return m.ttl > 0 && m.now().Sub(p.CreatedAt) > m.ttl
}
