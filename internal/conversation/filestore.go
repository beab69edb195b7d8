// ABOUTME: File-backed Store keeping one JSON document per (channel, user)
// ABOUTME: In-memory cache is authoritative; disk writes are detached and atomic

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists one agent's conversations as JSON documents under
// <dir>/<agent>/<channel>_<user>.json. Reads are served from an in-memory
// cache; every mutation schedules a detached atomic write.
type FileStore struct {
	agent      string
	dir        string
	maxHistory int
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]*Context
	stats Stats

	saves   sync.WaitGroup
	fileMu  sync.Mutex // serializes document writes so disk never reorders
	nowFunc func() time.Time
}

// Stats reports cache behavior for one store.
type Stats struct {
	MessagesProcessed int
	ConversationsHeld int
	CacheHits         int
	CacheMisses       int
}

// NewFileStore creates a file-backed store for the named agent rooted at dir.
// The agent's subdirectory is created if needed.
func NewFileStore(agent, dir string, maxHistory int, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	agentDir := filepath.Join(dir, agent)
	if err := os.MkdirAll(agentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileStore{
		agent:      agent,
		dir:        agentDir,
		maxHistory: maxHistory,
		logger:     logger.With("component", "filestore", "agent", agent),
		cache:      make(map[string]*Context),
		nowFunc:    time.Now,
	}, nil
}

func conversationKey(channelID, userID string) string {
	return channelID + "_" + userID
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// GetContext returns the conversation for (channelID, userID). It never
// fails: a missing or corrupt document degrades to a fresh empty context.
func (s *FileStore) GetContext(ctx context.Context, channelID, userID string) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lockedContext(channelID, userID)
	return snapshot(c), nil
}

// lockedContext returns the cached context, loading from disk on a miss.
// Caller must hold s.mu.
func (s *FileStore) lockedContext(channelID, userID string) *Context {
	key := conversationKey(channelID, userID)
	if c, ok := s.cache[key]; ok {
		s.stats.CacheHits++
		return c
	}
	s.stats.CacheMisses++

	c := s.load(key, channelID, userID)
	s.cache[key] = c
	return c
}

func (s *FileStore) load(key, channelID, userID string) *Context {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read conversation, starting empty", "key", key, "error", err)
		}
		return &Context{ChannelID: channelID, UserID: userID, LastUpdated: s.nowFunc()}
	}

	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("corrupt conversation document, starting empty", "key", key, "error", err)
		return &Context{ChannelID: channelID, UserID: userID, LastUpdated: s.nowFunc()}
	}
	return &c
}

// AddMessage appends a message under the cache lock, trims history to the
// configured bound, and schedules a detached durable write. The returned
// message is the one appended.
func (s *FileStore) AddMessage(ctx context.Context, channelID, userID, role, content, agentName string, metadata map[string]string) (*Message, error) {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: s.nowFunc(),
		AgentName: agentName,
		Metadata:  metadata,
	}

	s.mu.Lock()
	c := s.lockedContext(channelID, userID)
	c.Messages = append(c.Messages, msg)
	c.LastUpdated = msg.Timestamp
	if agentName != "" {
		c.addParticipant(agentName)
	}
	if s.maxHistory > 0 && len(c.Messages) > s.maxHistory {
		c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-s.maxHistory:]...)
	}
	s.stats.MessagesProcessed++
	s.mu.Unlock()

	s.scheduleSave(conversationKey(channelID, userID))
	return &msg, nil
}

// scheduleSave spawns a detached write of the current cached state for key.
// The writer snapshots at write time, so a late-running goroutine can only
// persist equal-or-newer state: disk lags memory but never reorders.
func (s *FileStore) scheduleSave(key string) {
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()

		s.fileMu.Lock()
		defer s.fileMu.Unlock()

		s.mu.Lock()
		c, ok := s.cache[key]
		var snap *Context
		if ok {
			snap = snapshot(c)
		}
		s.mu.Unlock()
		if snap == nil {
			return // evicted or reset since scheduling
		}

		if err := s.write(key, snap); err != nil {
			s.logger.Error("failed to persist conversation", "key", key, "error", err)
		}
	}()
}

// write marshals the context and atomically replaces the target document.
func (s *FileStore) write(key string, c *Context) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}

	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Cleanup removes conversations whose last activity predates the cutoff,
// from both cache and disk. Returns the number of conversations removed.
func (s *FileStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.nowFunc().Add(-olderThan)
	removed := 0

	s.mu.Lock()
	for key, c := range s.cache {
		if c.LastUpdated.Before(cutoff) {
			delete(s.cache, key)
			removed++
		}
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return removed, fmt.Errorf("reading storage directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
				s.logger.Warn("failed to remove old conversation file", "file", entry.Name(), "error", err)
				continue
			}
			removed++
		}
	}

	s.logger.Info("cleaned up old conversations", "removed", removed)
	return removed, nil
}

// Export serializes the conversation in the requested format.
func (s *FileStore) Export(ctx context.Context, channelID, userID, format string) (string, error) {
	c, err := s.GetContext(ctx, channelID, userID)
	if err != nil {
		return "", err
	}
	return exportContext(c, format)
}

// Reset drops one conversation from cache and disk.
func (s *FileStore) Reset(ctx context.Context, channelID, userID string) error {
	key := conversationKey(channelID, userID)

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing conversation file: %w", err)
	}
	s.logger.Info("reset conversation", "key", key)
	return nil
}

// Stats returns a copy of the store's counters.
func (s *FileStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.ConversationsHeld = len(s.cache)
	return st
}

// Flush blocks until all scheduled writes have completed or ctx is done.
func (s *FileStore) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes. Safe to call once at shutdown.
func (s *FileStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

// snapshot returns a read-only copy of a cached context so callers never
// observe later appends through a shared slice.
func snapshot(c *Context) *Context {
	out := &Context{
		ChannelID:   c.ChannelID,
		UserID:      c.UserID,
		LastUpdated: c.LastUpdated,
	}
	if len(c.Messages) > 0 {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	if len(c.Participants) > 0 {
		out.Participants = append([]string(nil), c.Participants...)
	}
	return out
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
