package turnlog

import (
	"context"
	"sync"
)

// MemoryStore keeps turns in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Turn
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]Turn)}
}

func (m *MemoryStore) Append(_ context.Context, sessionID, turnID string, turn Turn) error {
	if err := validate(sessionID, turnID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.sessions[sessionID]
	if turns == nil {
		turns = make(map[string]Turn)
		m.sessions[sessionID] = turns
	}
	if _, exists := turns[turnID]; exists {
		return nil
	}
	turns[turnID] = normalize(sessionID, turnID, turn)
	return nil
}

func (m *MemoryStore) ListOrdered(_ context.Context, sessionID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Turn, 0, len(m.sessions[sessionID]))
	for _, t := range m.sessions[sessionID] {
		out = append(out, t)
	}
	sortTurns(out)
	return out, nil
}
