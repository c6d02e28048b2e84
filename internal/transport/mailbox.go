package transport

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// mailbox delivers payloads to one handler on its own goroutine. The queue
// is unbounded so a handler that posts back onto the same surface never
// blocks on its own mailbox.
type mailbox struct {
	id      uint64
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	queue  [][]byte
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newMailbox(id uint64, h Handler, logger *slog.Logger) *mailbox {
	return &mailbox{
		id:      id,
		handler: h,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (m *mailbox) push(payload []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, payload)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) stop() { m.once.Do(func() { close(m.done) }) }

func (m *mailbox) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		for {
			select {
			case <-m.done:
				return
			default:
			}
			m.mu.Lock()
			if len(m.queue) == 0 {
				m.mu.Unlock()
				break
			}
			payload := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			m.deliver(payload)
		}
	}
}

func (m *mailbox) deliver(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transport listener panicked", "listener", m.id, "panic", r)
		}
	}()
	m.handler(payload)
}

// registry is the listener bookkeeping shared by every adapter.
type registry struct {
	logger *slog.Logger
	nextID atomic.Uint64
	mu     sync.RWMutex
	boxes  map[uint64]*mailbox
	wg     sync.WaitGroup
	closed atomic.Bool
}

func newRegistry(logger *slog.Logger) *registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registry{logger: logger, boxes: make(map[uint64]*mailbox)}
}

func (r *registry) add(h Handler) func() {
	id := r.nextID.Add(1)
	box := newMailbox(id, h, r.logger)

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return func() {}
	}
	r.boxes[id] = box
	r.wg.Add(1)
	r.mu.Unlock()

	go box.run(&r.wg)

	return func() {
		r.mu.Lock()
		delete(r.boxes, id)
		r.mu.Unlock()
		box.stop()
	}
}

// fanout queues payload on every mailbox. Each mailbox gets its own copy.
func (r *registry) fanout(payload []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, box := range r.boxes {
		box.push(append([]byte(nil), payload...))
	}
	return len(r.boxes)
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.boxes)
}

// close stops every mailbox and waits for in-flight handlers.
func (r *registry) close() {
	if r.closed.Swap(true) {
		return
	}
	r.mu.Lock()
	for id, box := range r.boxes {
		box.stop()
		delete(r.boxes, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
