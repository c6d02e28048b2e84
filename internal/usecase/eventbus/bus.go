// Package eventbus is the in-process hub channels publish protocol events
// on for application observers.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"walletbridge/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription delivers to one handler on its own goroutine, in publish
// order. The queue is unbounded so Publish never blocks on a slow handler.
type subscription struct {
	id      uint64
	handler domain.EventHandler
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []delivery
	signal chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func (s *subscription) push(d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) cancel() { s.once.Do(func() { close(s.stop) }) }

// run delivers until cancelled. On drain it finishes what is queued.
func (s *subscription) run(wg *sync.WaitGroup, drain <-chan struct{}) {
	defer wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-s.signal:
			s.flush()
		case <-drain:
			s.flush()
			return
		}
	}
}

func (s *subscription) flush() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.deliver(d)
	}
}

func (s *subscription) deliver(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked", "event", string(d.event.Type), "panic", r)
		}
	}()
	s.handler(d.ctx, d.event)
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
	drain   chan struct{}
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger.With("component", "eventbus"),
		drain:  make(chan struct{}),
	}
}

// Publish queues event for matching typed subscribers and all-event
// subscribers. Panicking handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	// Handlers outlive the publishing request.
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.typed[event.Type] {
		sub.push(delivery{ctx: ctx, event: event})
	}
	for _, sub := range b.allSubs {
		sub.push(delivery{ctx: ctx, event: event})
	}
}

func (b *Bus) newSubscription(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		logger:  b.logger,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.wg.Add(1)
	go sub.run(&b.wg, b.drain)
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	if b.closed.Load() {
		return func() {}
	}
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.typed[eventType] = remove(b.typed[eventType], sub.id)
		b.mu.Unlock()
		sub.cancel()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	if b.closed.Load() {
		return func() {}
	}
	sub := b.newSubscription(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		b.allSubs = remove(b.allSubs, sub.id)
		b.mu.Unlock()
		sub.cancel()
	}
}

func remove(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close stops new publishes, delivers what is already queued and waits
// for the handlers to return. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.drain)
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
