package game

import (
	"sync"

	"github.com/google/uuid"
)

// Store is a concurrency-safe set of sessions keyed by match id.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (s *Store) Add(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Store) Get(id uuid.UUID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, exists := s.sessions[id]
	return g, exists
}

// Remove deletes id and reports whether it was present.
func (s *Store) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// List returns a snapshot of the sessions for game, or all of them when game is empty.
// Callers iterate the copy, so the store may change underneath them.
func (s *Store) List(game string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, g := range s.sessions {
		if game == "" || g.Game == game {
			out = append(out, g)
		}
	}
	return out
}

// HostedBy returns the session hosted by user, or nil if none is found.
func (s *Store) HostedBy(user uuid.UUID) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.sessions {
		if g.Host == user {
			return g
		}
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
