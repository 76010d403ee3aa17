package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	sender TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	conversation_ref TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_owner ON messages(owner_id, conversation_ref, created_at);`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite store at path.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) InsertMessage(ctx context.Context, content string, sender Sender, ownerID, conversationRef string) (Message, error) {
	msg := Message{
		ID:              uuid.NewString(),
		Content:         content,
		Sender:          sender,
		OwnerID:         ownerID,
		ConversationRef: conversationRef,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, content, sender, owner_id, conversation_ref, created_at) VALUES (?,?,?,?,?,?);`,
		msg.ID, msg.Content, string(msg.Sender), msg.OwnerID, msg.ConversationRef, msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

func (s *SQLite) Messages(ctx context.Context, ownerID, conversationRef string, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, content, sender, owner_id, conversation_ref, created_at FROM messages WHERE owner_id = ?`
	args := []any{ownerID}
	if conversationRef != "" {
		query += ` AND conversation_ref = ?`
		args = append(args, conversationRef)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?;`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sender string
		if err := rows.Scan(&m.ID, &m.Content, &sender, &m.OwnerID, &m.ConversationRef, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = Sender(sender)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Page is fetched newest-first; return it in chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// fetch loads a message by id regardless of owner, for ownership checks.
func (s *SQLite) fetch(ctx context.Context, id string) (Message, error) {
	var m Message
	var sender string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, content, sender, owner_id, conversation_ref, created_at FROM messages WHERE id = ?;`, id).
		Scan(&m.ID, &m.Content, &sender, &m.OwnerID, &m.ConversationRef, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("fetch message: %w", err)
	}
	m.Sender = Sender(sender)
	return m, nil
}

func (s *SQLite) UpdateMessage(ctx context.Context, id, ownerID, content string) (Message, error) {
	m, err := s.fetch(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if m.OwnerID != ownerID {
		return Message{}, ErrForbidden
	}
	if m.Sender != SenderUser {
		return Message{}, ErrNotEditable
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?;`, content, id); err != nil {
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	m.Content = content
	return m, nil
}

func (s *SQLite) DeleteMessage(ctx context.Context, id, ownerID string) error {
	m, err := s.fetch(ctx, id)
	if err != nil {
		return err
	}
	if m.OwnerID != ownerID {
		return ErrForbidden
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, conversationRef, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_ref = ? AND owner_id = ?;`, conversationRef, ownerID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteAllConversations(ctx context.Context, ownerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE owner_id = ?;`, ownerID); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	return nil
}

func (s *SQLite) Conversations(ctx context.Context, ownerID string) ([]ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_ref, content, created_at FROM messages
		WHERE owner_id = ? AND conversation_ref != ''
		GROUP BY conversation_ref HAVING created_at = MAX(created_at)
		ORDER BY created_at DESC;`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ConversationRef, &c.LastMessage, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
