// ABOUTME: In-memory Store implementation for tests and ephemeral deployments
// ABOUTME: Same semantics as FileStore minus durability

package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a Store with no durable state. It is primarily a test
// double, but also serves deployments that want amnesiac agents.
type MemoryStore struct {
	maxHistory int

	mu    sync.Mutex
	cache map[string]*Context

	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory store. maxHistory <= 0 means
// unbounded history.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		cache:      make(map[string]*Context),
		nowFunc:    time.Now,
	}
}

// GetContext returns the conversation for (channelID, userID), creating an
// empty one on first access.
func (s *MemoryStore) GetContext(ctx context.Context, channelID, userID string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.lockedContext(channelID, userID)), nil
}

func (s *MemoryStore) lockedContext(channelID, userID string) *Context {
	key := conversationKey(channelID, userID)
	c, ok := s.cache[key]
	if !ok {
		c = &Context{ChannelID: channelID, UserID: userID, LastUpdated: s.nowFunc()}
		s.cache[key] = c
	}
	return c
}

// AddMessage appends a message and trims to the history bound.
func (s *MemoryStore) AddMessage(ctx context.Context, channelID, userID, role, content, agentName string, metadata map[string]string) (*Message, error) {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: s.nowFunc(),
		AgentName: agentName,
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lockedContext(channelID, userID)
	c.Messages = append(c.Messages, msg)
	c.LastUpdated = msg.Timestamp
	if agentName != "" {
		c.addParticipant(agentName)
	}
	if s.maxHistory > 0 && len(c.Messages) > s.maxHistory {
		c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-s.maxHistory:]...)
	}
	return &msg, nil
}

// Cleanup drops conversations idle longer than olderThan.
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.nowFunc().Add(-olderThan)
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, c := range s.cache {
		if c.LastUpdated.Before(cutoff) {
			delete(s.cache, key)
			removed++
		}
	}
	return removed, nil
}

// Export serializes the conversation in the requested format.
func (s *MemoryStore) Export(ctx context.Context, channelID, userID, format string) (string, error) {
	c, err := s.GetContext(ctx, channelID, userID)
	if err != nil {
		return "", err
	}
	return exportContext(c, format)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
