package history

import (
	"sync"

	"ai-relay/internal/llm"
)

// maxMessages bounds the context fed back to the LLM per user.
const maxMessages = 40

// Manager keeps per-user conversation context in memory. History is a
// convenience for multi-turn answers; it is not persisted and resets
// with the process (and on /clear).
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64][]llm.Message
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[int64][]llm.Message)}
}

func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

func (m *Manager) AppendUser(userID int64, content string) {
	m.append(userID, llm.Message{Role: "user", Content: content})
}

func (m *Manager) AppendAssistant(userID int64, content string) {
	m.append(userID, llm.Message{Role: "assistant", Content: content})
}

func (m *Manager) append(userID int64, msg llm.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append(m.sessions[userID], msg)
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	m.sessions[userID] = msgs
}

func (m *Manager) Get(userID int64) []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.sessions[userID]
	out := make([]llm.Message, len(es))
	copy(out, es)
	return out
}
