package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// sessionStoreInMemory держит сессии посетителей в памяти процесса.
type sessionStoreInMemory struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]byte
}

// NewSessionStore создаёт in-memory реализацию SessionStore.
func NewSessionStore() domain.SessionStore {
	return &sessionStoreInMemory{sessions: make(map[string]map[string][]byte)}
}

func (s *sessionStoreInMemory) Get(_ context.Context, sessionID, key string) ([]byte, bool, error) {
	sessionID = strings.TrimSpace(sessionID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.sessions[sessionID][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (s *sessionStoreInMemory) Set(_ context.Context, sessionID, key string, value []byte) error {
	sessionID = strings.TrimSpace(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		session = make(map[string][]byte)
		s.sessions[sessionID] = session
	}
	session[key] = append([]byte(nil), value...)
	return nil
}

func (s *sessionStoreInMemory) Delete(_ context.Context, sessionID, key string) error {
	sessionID = strings.TrimSpace(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		delete(session, key)
		if len(session) == 0 {
			delete(s.sessions, sessionID)
		}
	}
	return nil
}

var _ domain.SessionStore = (*sessionStoreInMemory)(nil)
