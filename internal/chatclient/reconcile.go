package chatclient

import (
	"sync"

	"ams_backend/internal/domain"
)

// State is the reconciled conversation list owned by one view or session.
// It is safe for concurrent use by a poller and the UI.
type State struct {
	mu      sync.Mutex
	entries map[string]domain.ConversationSummary
	order   []string
	issued  uint64
	applied uint64
	closed  bool
}

func NewState() *State {
	return &State{entries: make(map[string]domain.ConversationSummary)}
}

// BeginTick reserves the sequence number for a fetch about to start.
func (s *State) BeginTick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// ApplyTick merges the result of fetch seq. Results older than the last
// applied tick, and anything arriving after Close, are dropped. It reports
// whether the state changed.
func (s *State) ApplyTick(seq uint64, fresh []domain.ConversationSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq <= s.applied {
		return false
	}
	s.applied = seq

	next := make(map[string]domain.ConversationSummary, len(fresh))
	order := make([]string, 0, len(fresh))
	for _, f := range fresh {
		if _, dup := next[f.CounterpartID]; dup {
			continue
		}
		if prev, ok := s.entries[f.CounterpartID]; ok {
			next[f.CounterpartID] = Merge(prev, f)
		} else {
			next[f.CounterpartID] = f
		}
		order = append(order, f.CounterpartID)
	}
	s.entries = next
	s.order = order
	return true
}

// Merge reconciles one local entry with its fresh server copy. A locally
// read entry stays read until the server reports a newer message.
func Merge(prev, fresh domain.ConversationSummary) domain.ConversationSummary {
	if prev.UnreadCount > 0 || fresh.UnreadCount == 0 {
		return fresh
	}
	if fresh.LastMessageAt.After(prev.LastMessageAt) {
		return fresh
	}
	return prev
}

// MarkReadLocal zeroes the unread count of counterpartID ahead of the server
// round-trip. It returns false when the entry is unknown or the state is closed.
func (s *State) MarkReadLocal(counterpartID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	e, ok := s.entries[counterpartID]
	if !ok {
		return false
	}
	e.UnreadCount = 0
	s.entries[counterpartID] = e
	return true
}

func (s *State) Get(counterpartID string) (domain.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[counterpartID]
	return e, ok
}

// Snapshot returns the entries in the order of the last applied tick.
func (s *State) Snapshot() []domain.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ConversationSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

func (s *State) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, e := range s.entries {
		total += e.UnreadCount
	}
	return total
}

// Close discards the state. Later ticks and local updates are no-ops.
func (s *State) Close() {
	s.mu.Lock()
	s.closed = true
	s.entries = map[string]domain.ConversationSummary{}
	s.order = nil
	s.mu.Unlock()
}

func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
