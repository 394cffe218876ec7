package memory

import (
	"context"
	"sync"

	"github.com/mbakri/corvo/pkg/provider"
)

// InMemoryStore keeps transcripts in process memory. Useful for tests
// and one-shot runs where persistence is unwanted.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]provider.Message
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{messages: map[string][]provider.Message{}}
}

// History returns a copy of the transcript for a session.
func (s *InMemoryStore) History(ctx context.Context, sessionKey string) ([]provider.Message, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]provider.Message(nil), s.messages[sessionKey]...), nil
}

// Append adds messages to the end of the transcript.
func (s *InMemoryStore) Append(ctx context.Context, sessionKey string, msgs ...provider.Message) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionKey] = append(s.messages[sessionKey], msgs...)
	return nil
}

// Sessions lists session keys that have at least one message.
func (s *InMemoryStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.messages))
	for key := range s.messages {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear deletes the transcript for a session.
func (s *InMemoryStore) Clear(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionKey)
	return nil
}
