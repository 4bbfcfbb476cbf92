package agent

import (
	"sync"

	"github.com/fasalrakshak/fasalrakshak/internal/llm"
)

// DefaultMaxHistory is the number of messages a session keeps.
const DefaultMaxHistory = 40

// Sessions holds conversation history per key. It is safe for concurrent use.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string][]llm.Message
	max      int
}

// NewSessions creates a store keeping at most max messages per session.
func NewSessions(max int) *Sessions {
	if max < 1 {
		max = DefaultMaxHistory
	}
	return &Sessions{sessions: make(map[string][]llm.Message), max: max}
}

// Get returns a copy of the history for key.
func (s *Sessions) Get(key string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.sessions[key]
	out := make([]llm.Message, len(h))
	copy(out, h)
	return out
}

// Set replaces the history for key, keeping only the newest messages.
// The kept history never starts with a tool result or an assistant tool
// request whose results were cut off.
func (s *Sessions) Set(key string, history []llm.Message) {
	trimmed := trim(history, s.max)
	out := make([]llm.Message, len(trimmed))
	copy(out, trimmed)

	s.mu.Lock()
	s.sessions[key] = out
	s.mu.Unlock()
}

// Append adds messages to the history for key.
func (s *Sessions) Append(key string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.sessions[key], msgs...)
	trimmed := trim(h, s.max)
	out := make([]llm.Message, len(trimmed))
	copy(out, trimmed)
	s.sessions[key] = out
}

// Reset forgets the history for key.
func (s *Sessions) Reset(key string) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// trim keeps the newest max messages and then drops leading messages until
// the history starts at a user turn.
func trim(h []llm.Message, max int) []llm.Message {
	if len(h) > max {
		h = h[len(h)-max:]
	}
	for len(h) > 0 && h[0].Role != llm.RoleUser {
		h = h[1:]
	}
	return h
}
