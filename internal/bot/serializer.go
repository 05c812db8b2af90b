package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Klingon-tech/klingnet-bot/internal/account"
	klog "github.com/Klingon-tech/klingnet-bot/internal/log"
)

// Serializer errors.
var (
	ErrClosed    = errors.New("serializer closed")
	ErrQueueFull = errors.New("too many pending events for identity")
)

// DefaultMaxPending bounds the per-identity backlog.
const DefaultMaxPending = 64

// HandlerFunc processes one event.
type HandlerFunc func(ctx context.Context, ev Event)

// Serializer runs events of the same identity one at a time in arrival
// order, while different identities proceed in parallel. Each identity
// gets a worker goroutine while it has queued events; the worker exits
// once its queue drains.
type Serializer struct {
	handle     HandlerFunc
	maxPending int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string][]Event
	closed bool
	wg     sync.WaitGroup
}

// NewSerializer creates a Serializer. maxPending <= 0 selects
// DefaultMaxPending.
func NewSerializer(handle HandlerFunc, maxPending int) *Serializer {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Serializer{
		handle:     handle,
		maxPending: maxPending,
		ctx:        ctx,
		cancel:     cancel,
		queues:     make(map[string][]Event),
	}
}

// Submit queues ev behind any earlier events of the same identity.
func (s *Serializer) Submit(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	q, running := s.queues[ev.Identity]
	if len(q) >= s.maxPending {
		return fmt.Errorf("%w: %d queued", ErrQueueFull, len(q))
	}
	s.queues[ev.Identity] = append(q, ev)
	if !running {
		s.wg.Add(1)
		go s.work(ev.Identity)
	}
	return nil
}

// work drains one identity's queue. The queue entry stays in the map,
// possibly empty, for as long as the worker runs, which is how Submit
// knows not to start a second worker.
func (s *Serializer) work(identity string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[identity]
		if len(q) == 0 {
			delete(s.queues, identity)
			s.mu.Unlock()
			return
		}
		ev := q[0]
		s.queues[identity] = q[1:]
		s.mu.Unlock()

		s.run(ev)
	}
}

func (s *Serializer) run(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			klog.Bot.Error().
				Str("event_id", ev.ID.String()).
				Str("identity", account.Fingerprint(ev.Identity)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Event handler panicked")
		}
	}()
	s.handle(s.ctx, ev)
}

// Active returns the number of identities with a running worker.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Close stops accepting events and waits for queued ones to finish. If
// ctx ends first, in-flight handlers see their context cancelled and Close
// returns ctx's error once they have returned.
func (s *Serializer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
