package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/pkg/types"
)

// DefaultSessionTTL is how long a clarification session stays resolvable.
const DefaultSessionTTL = 300 * time.Second

type sessionEntry struct {
	query      string
	candidates types.CandidateSet
	expiresAt  time.Time
}

// SessionStore holds clarification candidate sets between the query that
// raised the ambiguity and the follow-up selection. Entries expire after a
// fixed TTL; expiry is checked lazily on Get and swept on Create. Reads do
// not renew the TTL. State is in-process only, a restart clears it.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]sessionEntry
}

// NewSessionStore creates a store with the given TTL. ttl <= 0 falls back to
// DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]sessionEntry),
	}
}

// Create stores the candidate set under a fresh session token and returns
// the token. Expired entries are swept here so the map stays bounded by the
// rate of ambiguous queries within one TTL window.
func (s *SessionStore) Create(query string, candidates types.CandidateSet) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}

	id := uuid.NewString()
	s.sessions[id] = sessionEntry{
		query:      query,
		candidates: candidates,
		expiresAt:  now.Add(s.ttl),
	}
	return id
}

// Get returns the candidate set for a session, or false if the session is
// unknown or expired. An expired entry is deleted on access.
func (s *SessionStore) Get(id string) (types.CandidateSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.sessions, id)
		return nil, false
	}
	return entry.candidates, true
}

// Len reports the number of live plus not-yet-swept entries.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
