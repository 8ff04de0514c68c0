package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id does not resolve to a live
// session.
var ErrNotFound = errors.New("session not found")

// ErrNotJoined is returned when an event arrives from a connection that is
// not a joined participant of the session it names.
var ErrNotJoined = errors.New("not joined to session")

// Store is the registry of live sessions, addressable by id. Sessions on
// different ids never block each other; each session serializes its own
// mutations.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create allocates a new session with an empty document and returns it. The
// id is a freshly generated uuid.
func (st *Store) Create(title, language string, isPublic bool) *Session {
	s := &Session{
		id:           uuid.NewString(),
		title:        title,
		isPublic:     isPublic,
		language:     language,
		lastActivity: time.Now(),
		participants: make(map[string]*Participant),
		conns:        make(map[string]Sender),
	}

	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
	return s
}

// Restore registers a session rebuilt from a persisted snapshot, keeping its
// original id. If the id is already live the existing session wins.
func (st *Store) Restore(id, title, document, language string, isPublic bool) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, ok := st.sessions[id]; ok {
		return existing
	}
	s := &Session{
		id:           id,
		title:        title,
		isPublic:     isPublic,
		document:     document,
		language:     language,
		lastActivity: time.Now(),
		participants: make(map[string]*Participant),
		conns:        make(map[string]Sender),
	}
	st.sessions[id] = s
	return s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Touch updates the session's activity timestamp if it is live.
func (st *Store) Touch(id string) {
	if s, ok := st.Get(id); ok {
		s.Touch()
	}
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ClientCount returns the number of joined participants across all sessions.
func (st *Store) ClientCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	total := 0
	for _, s := range st.sessions {
		total += s.ParticipantCount()
	}
	return total
}

// ActiveCounts returns participant counts per session id.
func (st *Store) ActiveCounts() map[string]int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	counts := make(map[string]int, len(st.sessions))
	for id, s := range st.sessions {
		counts[id] = s.ParticipantCount()
	}
	return counts
}

// Public returns the live sessions that allow anonymous lookup.
func (st *Store) Public() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []*Session
	for _, s := range st.sessions {
		if s.IsPublic() {
			out = append(out, s)
		}
	}
	return out
}

// IdleSince returns sessions with no participants whose last activity is
// older than cutoff. Used by the reaper.
func (st *Store) IdleSince(cutoff time.Time) []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []*Session
	for _, s := range st.sessions {
		if s.ParticipantCount() == 0 && s.LastActivity().Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
