// ABOUTME: SQLite implementation of the conversation Store using modernc.org/sqlite
// ABOUTME: Session rows bound liveness bookkeeping; retrieval unions all rows for the triple

package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store for one agent on a shared SQLite database.
// Every query is scoped by the bot column, so agents sharing a database
// file never see each other's rows.
//
// Sessions group messages for activity bookkeeping only. A session is
// reused while the channel stays active within sessionTimeout; after that
// it is marked inactive and a new one opens. GetContext deliberately
// ignores session boundaries and unions rows for the triple, keeping only
// the maxHistory most recent.
type SQLiteStore struct {
	agent          string
	db             *sql.DB
	maxHistory     int
	sessionTimeout time.Duration
	logger         *slog.Logger

	nowFunc func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path for the
// named agent. Parent directories are created; the schema is applied
// idempotently. A non-positive maxHistory disables the retrieval bound.
func NewSQLiteStore(agent, path string, maxHistory int, sessionTimeout time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sqlitestore", "agent", agent)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for concurrent readers across agent stores
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		agent:          agent,
		db:             db,
		maxHistory:     maxHistory,
		sessionTimeout: sessionTimeout,
		logger:         logger,
		nowFunc:        time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite conversation store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			channel_type TEXT NOT NULL CHECK (channel_type IN ('channel', 'dm')),
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			metadata_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_bot_channel
			ON conversations(bot, channel_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_session
			ON conversations(session_id);

		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			last_activity TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_bot_channel
			ON sessions(bot, channel_id);

		CREATE INDEX IF NOT EXISTS idx_sessions_session
			ON sessions(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// getOrCreateSession returns the active session for this agent's channel,
// reusing it while its last activity is within sessionTimeout. Otherwise
// older sessions are marked inactive and a fresh one opens.
func (s *SQLiteStore) getOrCreateSession(ctx context.Context, channelID string) (string, error) {
	now := s.nowFunc().UTC()
	cutoff := now.Add(-s.sessionTimeout).Format(time.RFC3339Nano)

	var sessionID string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id FROM sessions
		WHERE bot = ? AND channel_id = ? AND is_active = 1 AND last_activity > ?
		ORDER BY last_activity DESC
		LIMIT 1
	`, s.agent, channelID, cutoff).Scan(&sessionID)

	if err == nil {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET last_activity = ? WHERE session_id = ?
		`, now.Format(time.RFC3339Nano), sessionID)
		if err != nil {
			return "", fmt.Errorf("touching session: %w", err)
		}
		return sessionID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("querying session: %w", err)
	}

	sessionID = uuid.New().String()
	nowStr := now.Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (bot, channel_id, session_id, started_at, last_activity)
		VALUES (?, ?, ?, ?, ?)
	`, s.agent, channelID, sessionID, nowStr, nowStr); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}

	// Retire whatever session was active before
	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = 0
		WHERE bot = ? AND channel_id = ? AND session_id != ?
	`, s.agent, channelID, sessionID); err != nil {
		return "", fmt.Errorf("retiring old sessions: %w", err)
	}

	s.logger.Debug("opened session", "channel_id", channelID, "session_id", sessionID)
	return sessionID, nil
}

// AddMessage inserts one conversation row and bumps the session counters.
func (s *SQLiteStore) AddMessage(ctx context.Context, channelID, userID, role, content, agentName string, metadata map[string]string) (*Message, error) {
	sessionID, err := s.getOrCreateSession(ctx, channelID)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		AgentName: agentName,
		Metadata:  metadata,
	}

	channelName := metadata["channel_name"]
	if channelName == "" {
		channelName = "channel_" + channelID
	}
	username := metadata["username"]
	if username == "" {
		username = "user_" + userID
	}
	channelType := metadata["channel_type"]
	if channelType != "dm" {
		channelType = "channel"
	}

	var metadataJSON any
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(bot, channel_id, channel_name, channel_type, user_id, username,
			 session_id, message_id, role, content, timestamp, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.agent, channelID, channelName, channelType, userID, username,
		sessionID, uuid.New().String(), role, content,
		now.UTC().Format(time.RFC3339Nano), metadataJSON,
	); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET message_count = message_count + 1, last_activity = ?
		WHERE session_id = ?
	`, now.UTC().Format(time.RFC3339Nano), sessionID); err != nil {
		return nil, fmt.Errorf("updating session count: %w", err)
	}

	return &msg, nil
}

// GetContext returns the most recent maxHistory messages for
// (channelID, userID) in insertion order, across every session. It never
// fails: query errors degrade to an empty context with a logged warning.
func (s *SQLiteStore) GetContext(ctx context.Context, channelID, userID string) (*Context, error) {
	c := &Context{ChannelID: channelID, UserID: userID, LastUpdated: s.nowFunc()}

	limit := s.maxHistory
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp, metadata_json
		FROM conversations
		WHERE bot = ? AND channel_id = ? AND user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, s.agent, channelID, userID, limit)
	if err != nil {
		s.logger.Warn("failed to load conversation, starting empty",
			"channel_id", channelID, "user_id", userID, "error", err)
		return c, nil
	}
	defer rows.Close()

	for rows.Next() {
		var role, content, tsStr string
		var metadataJSON sql.NullString

		if err := rows.Scan(&role, &content, &tsStr, &metadataJSON); err != nil {
			s.logger.Warn("skipping unreadable conversation row", "error", err)
			continue
		}

		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			ts = s.nowFunc()
		}

		msg := Message{Role: role, Content: content, Timestamp: ts}
		if role == RoleAssistant {
			msg.AgentName = s.agent
		}
		if metadataJSON.Valid {
			var md map[string]string
			if err := json.Unmarshal([]byte(metadataJSON.String), &md); err == nil {
				msg.Metadata = md
			}
		}

		// Rows arrive newest-first so the LIMIT keeps recent messages.
		c.Messages = append(c.Messages, msg)
		if len(c.Messages) == 1 {
			c.LastUpdated = ts
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("error iterating conversation rows", "error", err)
	}
	slices.Reverse(c.Messages)

	if len(c.AgentMessages(s.agent)) > 0 {
		c.addParticipant(s.agent)
	}
	return c, nil
}

// Cleanup removes this agent's conversations and sessions older than the
// cutoff. A non-positive olderThan wipes all of the agent's rows, which is
// how tests and the debug CLI reset a shared database without touching
// other agents. Returns the number of distinct (channel, user) contexts
// removed.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		var count int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(DISTINCT channel_id || '/' || user_id)
			FROM conversations WHERE bot = ?
		`, s.agent).Scan(&count); err != nil {
			return 0, fmt.Errorf("counting conversations: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE bot = ?`, s.agent); err != nil {
			return 0, fmt.Errorf("deleting conversations: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE bot = ?`, s.agent); err != nil {
			return 0, fmt.Errorf("deleting sessions: %w", err)
		}
		return count, nil
	}

	cutoff := s.nowFunc().UTC().Add(-olderThan).Format(time.RFC3339Nano)

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT channel_id || '/' || user_id)
		FROM conversations WHERE bot = ? AND timestamp < ?
	`, s.agent, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting old conversations: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE bot = ? AND timestamp < ?
	`, s.agent, cutoff); err != nil {
		return 0, fmt.Errorf("deleting old conversations: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE bot = ? AND last_activity < ?
	`, s.agent, cutoff); err != nil {
		return 0, fmt.Errorf("deleting old sessions: %w", err)
	}

	s.logger.Info("cleaned up old conversations", "removed", count)
	return count, nil
}

// Export serializes the conversation in the requested format.
func (s *SQLiteStore) Export(ctx context.Context, channelID, userID, format string) (string, error) {
	c, err := s.GetContext(ctx, channelID, userID)
	if err != nil {
		return "", err
	}
	return exportContext(c, format)
}

// SessionInfo reports session bookkeeping for one channel, most recent
// first. Used by status/debug surfaces; retrieval never consults it.
type SessionInfo struct {
	SessionID    string
	ChannelID    string
	StartedAt    time.Time
	LastActivity time.Time
	MessageCount int
	IsActive     bool
}

// Sessions lists session rows for the agent's channel.
func (s *SQLiteStore) Sessions(ctx context.Context, channelID string) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, channel_id, started_at, last_activity, message_count, is_active
		FROM sessions
		WHERE bot = ? AND channel_id = ?
		ORDER BY started_at DESC
	`, s.agent, channelID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var si SessionInfo
		var startedStr, activityStr string
		var active int
		if err := rows.Scan(&si.SessionID, &si.ChannelID, &startedStr, &activityStr, &si.MessageCount, &active); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		si.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		si.LastActivity, _ = time.Parse(time.RFC3339Nano, activityStr)
		si.IsActive = active == 1
		out = append(out, si)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite conversation store")
	return s.db.Close()
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
