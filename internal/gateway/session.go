package gateway

import (
	"sync"

	"github.com/firebase/genkit/go/ai"
)

// session holds one conversation's state. The mutex serializes turns so
// interleaved requests cannot corrupt the history order.
type session struct {
	mu             sync.Mutex
	history        []*ai.Message
	promptInjected bool
}

// sessionStore is an in-process session map. Sessions are created on first
// use and kept for the process lifetime.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

// get returns the session for id, creating it when absent.
func (s *sessionStore) get(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	return sess
}

// lookup returns the session for id, or nil when it does not exist.
func (s *sessionStore) lookup(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// len reports the number of live sessions.
func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
