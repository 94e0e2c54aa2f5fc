package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatmon/pkg/logger"
	"chatmon/pkg/models"
)

// replyWindow bounds how many recent messages a reply scan considers.
const replyWindow = 10

// timeLayout is how timestamps are compared inside SQLite. The stored
// values may carry a timezone offset; comparisons always truncate to the
// first 19 characters (yyyy-mm-dd hh:mm:ss).
const timeLayout = "2006-01-02 15:04:05"

// SQLite reads the bridge's append-only messages.db. The file is owned
// and written by the bridge process; this side opens it read-only.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the message log at path. mode=ro keeps the bridge as
// the only writer.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.check(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("message_log_opened", "path", path)
	return s, nil
}

// check verifies the expected tables exist before the watcher starts.
func (s *SQLite) check() error {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name='messages'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("messages table not found in message log")
	}
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// TaggedSince scans for tagged messages newer than since, oldest first.
// The timestamp cut is applied after parsing so offset-suffixed values
// compare correctly.
func (s *SQLite) TaggedSince(ctx context.Context, tag string, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_jid, c.name, m.sender, m.timestamp, m.content
		FROM messages m
		JOIN chats c ON m.chat_jid = c.jid
		WHERE m.content LIKE ?
		ORDER BY m.timestamp ASC`,
		"%"+tag+"%")
	if err != nil {
		return nil, fmt.Errorf("query tagged messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			logger.Warn("message_row_unreadable", "error", err)
			continue
		}
		if m.TS.After(since) {
			out = append(out, m)
		}
	}
	if len(out) > 0 {
		logger.Info("tagged_messages_found", "tag", tag, "count", len(out))
	}
	return out, rows.Err()
}

// ChatSince returns the newest messages in a chat after since, newest
// first, capped to the reply window.
func (s *SQLite) ChatSince(ctx context.Context, chatID string, since time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_jid, '', m.sender, m.timestamp, m.content
		FROM messages m
		WHERE m.chat_jid = ?
		  AND datetime(substr(m.timestamp, 1, 19)) > datetime(?)
		ORDER BY m.timestamp DESC
		LIMIT ?`,
		chatID, since.Format(timeLayout), replyWindow)
	if err != nil {
		return nil, fmt.Errorf("query chat replies: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Context returns up to n messages preceding before, oldest first.
func (s *SQLite) Context(ctx context.Context, chatID string, before time.Time, n int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_jid, '', m.sender, m.timestamp, m.content
		FROM messages m
		WHERE m.chat_jid = ?
		  AND datetime(substr(m.timestamp, 1, 19)) < datetime(?)
		ORDER BY m.timestamp DESC
		LIMIT ?`,
		chatID, before.Format(timeLayout), n)
	if err != nil {
		return nil, fmt.Errorf("query context window: %w", err)
	}
	defer rows.Close()

	msgs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	// chronological order for prompt building
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	logger.Debug("context_window_loaded", "chat", chatID, "count", len(msgs))
	return msgs, nil
}

func collect(rows *sql.Rows) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			logger.Warn("message_row_unreadable", "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows) (models.Message, error) {
	var m models.Message
	var ts string
	if err := rows.Scan(&m.ID, &m.ChatID, &m.ChatName, &m.Sender, &ts, &m.Content); err != nil {
		return models.Message{}, err
	}
	t, err := ParseTimestamp(ts)
	if err != nil {
		return models.Message{}, err
	}
	m.TS = t
	return m, nil
}

// ParseTimestamp parses a stored message timestamp. The bridge writes
// either RFC3339 values (possibly with an offset) or plain
// "yyyy-mm-dd hh:mm:ss"; unknown suffixes are truncated away.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	if len(s) > 19 {
		trunc := strings.Replace(s[:19], "T", " ", 1)
		if t, err := time.Parse(timeLayout, trunc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
