package bot

import (
	"sync"
	"time"
)

type promptState int

const (
	promptNone promptState = iota
	promptAwaitingName
	promptAwaitingCode
)

// promptStore remembers what a user is expected to send next, per user id.
// Entries expire after a TTL so an abandoned prompt does not linger; any new
// command simply overwrites the pending state.
type promptStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int64]promptEntry
}

type promptEntry struct {
	state   promptState
	expires time.Time
}

func newPromptStore(ttl time.Duration) *promptStore {
	return &promptStore{
		ttl:     ttl,
		entries: make(map[int64]promptEntry),
	}
}

func (s *promptStore) Set(userID int64, state promptState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == promptNone {
		delete(s.entries, userID)
		return
	}
	s.entries[userID] = promptEntry{state: state, expires: time.Now().Add(s.ttl)}
	if len(s.entries) > 128 {
		s.sweepLocked()
	}
}

func (s *promptStore) Get(userID int64) promptState {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		return promptNone
	}
	if time.Now().After(entry.expires) {
		delete(s.entries, userID)
		return promptNone
	}
	return entry.state
}

func (s *promptStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
}

func (s *promptStore) sweepLocked() {
	now := time.Now()
	for userID, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, userID)
		}
	}
}
