package client

import (
	"encoding/json"
	"sync"
	"time"

	"walletbridge/internal/protocol"
)

type outcome struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is resolved exactly once.
type pendingRequest struct {
	kind          protocol.Kind
	correlationID string
	entryTime     time.Time
	future        chan outcome
	once          sync.Once
}

func newPendingRequest(kind protocol.Kind, correlationID string, now time.Time) *pendingRequest {
	return &pendingRequest{
		kind:          kind,
		correlationID: correlationID,
		entryTime:     now,
		future:        make(chan outcome, 1),
	}
}

func (p *pendingRequest) resolve(o outcome) {
	p.once.Do(func() { p.future <- o })
}

// pendingTable is an ordered list searched linearly. Matched entries are
// removed so the table only grows with unanswered requests.
type pendingTable struct {
	mu      sync.Mutex
	entries []*pendingRequest
}

func (t *pendingTable) add(p *pendingRequest) {
	t.mu.Lock()
	t.entries = append(t.entries, p)
	t.mu.Unlock()
}

// take removes and returns the entry matching kind and correlationID.
func (t *pendingTable) take(kind protocol.Kind, correlationID string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.entries {
		if p.correlationID == correlationID && p.kind == kind {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return p
		}
	}
	return nil
}

// remove drops p if it is still pending.
func (t *pendingTable) remove(p *pendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == p {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// expire removes and returns entries older than ttl.
func (t *pendingTable) expire(now time.Time, ttl time.Duration) []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var stale []*pendingRequest
	kept := t.entries[:0]
	for _, p := range t.entries {
		if now.Sub(p.entryTime) >= ttl {
			stale = append(stale, p)
			continue
		}
		kept = append(kept, p)
	}
	clear(t.entries[len(kept):])
	t.entries = kept
	return stale
}

// drain removes every entry.
func (t *pendingTable) drain() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.entries
	t.entries = nil
	return all
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
