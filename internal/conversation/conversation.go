// ABOUTME: Store interface and data types for per-agent conversation history
// ABOUTME: Defines Message, Context structs and the Store interface both backends implement

package conversation

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Export formats accepted by Store.Export.
const (
	FormatJSON       = "json"
	FormatTranscript = "txt"
)

// ErrUnsupportedFormat is returned by Export for an unknown format name.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Message is a single message in a conversation. Messages are immutable
// once created; mutate history only by appending.
type Message struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	AgentName string            `json:"agent_name,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Context is the ordered message history for one (agent, channel, user)
// triple. Agents never share a Context: isolation between agents is the
// store's core invariant.
type Context struct {
	ChannelID    string    `json:"channel_id"`
	UserID       string    `json:"user_id"`
	Messages     []Message `json:"messages"`
	LastUpdated  time.Time `json:"last_updated"`
	Participants []string  `json:"participants,omitempty"`
}

// Recent returns up to limit of the most recent messages, oldest first.
func (c *Context) Recent(limit int) []Message {
	if limit <= 0 || len(c.Messages) <= limit {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-limit:]
}

// MessagesSince returns messages strictly newer than the given time.
func (c *Context) MessagesSince(since time.Time) []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	}
	return out
}

// AgentMessages returns the messages posted by the named agent.
func (c *Context) AgentMessages(agent string) []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.AgentName == agent {
			out = append(out, m)
		}
	}
	return out
}

func (c *Context) addParticipant(agent string) {
	for _, p := range c.Participants {
		if p == agent {
			return
		}
	}
	c.Participants = append(c.Participants, agent)
}

// Store persists conversation history for a single agent. Implementations
// must keep each agent's history strictly isolated from every other
// agent's, even when they share underlying storage.
//
// GetContext never fails: missing or corrupt durable state degrades to an
// empty context. AddMessage is totally ordered per (channel, user); durable
// persistence may lag the in-memory view but is never reordered relative
// to it.
type Store interface {
	GetContext(ctx context.Context, channelID, userID string) (*Context, error)
	AddMessage(ctx context.Context, channelID, userID, role, content, agentName string, metadata map[string]string) (*Message, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Export(ctx context.Context, channelID, userID, format string) (string, error)
	Close() error
}
