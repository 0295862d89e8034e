package dialog

import (
	"context"
	"sync"
	"time"
)

type sessionData struct {
	messages    []Message
	createdAt   time.Time
	lastTouched time.Time
}

// MemoryStore потокобезопасное in-memory хранилище сессий с TTL.
// Живёт только в пределах процесса.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]sessionData
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore создаёт хранилище. ttl == 0 означает, что сессии не истекают.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]sessionData),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get лениво удаляет истёкшую сессию.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) ([]Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, nil
	}
	if s.expired(data, s.now()) {
		delete(s.sessions, sessionID)
		return nil, false, nil
	}

	messages := make([]Message, len(data.messages))
	copy(messages, data.messages)
	return messages, true, nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	data, ok := s.sessions[sessionID]
	if !ok || s.expired(data, now) {
		data = sessionData{createdAt: now}
	}
	data.messages = append(data.messages, messages...)
	data.lastTouched = now
	s.sessions[sessionID] = data
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) ClearExpired(ctx context.Context, now time.Time) (int, error) {
	if s.ttl == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for id, data := range s.sessions {
		if s.expired(data, now) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len количество живых и ещё не вычищенных сессий.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *MemoryStore) expired(data sessionData, now time.Time) bool {
	return s.ttl > 0 && now.Sub(data.lastTouched) > s.ttl
}
