package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		phone           TEXT NOT NULL,
		business_id     TEXT NOT NULL DEFAULT '',
		bot_active      INTEGER NOT NULL DEFAULT 1,
		last_message_at DATETIME,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS ux_conversations_phone ON conversations(phone, business_id);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_type     TEXT NOT NULL,
		content         TEXT,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetByPhone returns the conversation for a sender address, or nil when none
// exists yet.
func (s *SQLiteStore) GetByPhone(ctx context.Context, phone, businessID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var lastMessage sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, business_id, bot_active, last_message_at, created_at
		 FROM conversations WHERE phone = ? AND business_id = ?`, phone, businessID,
	).Scan(&conv.ID, &conv.Phone, &conv.BusinessID, &conv.BotActive, &lastMessage, &conv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastMessage.Valid {
		conv.LastMessageAt = lastMessage.Time
	}
	return &conv, nil
}

func (s *SQLiteStore) Create(ctx context.Context, conv domain.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, phone, business_id, bot_active, last_message_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Phone, conv.BusinessID, conv.BotActive, conv.LastMessageAt, conv.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) SetBotActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET bot_active = ? WHERE id = ?`, active, id)
	return err
}

func (s *SQLiteStore) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`, at, id)
	return err
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, sender_type, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		msg.ConversationID, msg.SenderType, msg.Content, msg.CreatedAt,
	)
	return err
}

// ListConversations returns the most recently active conversations, newest
// first. Used by the status command.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone, business_id, bot_active, last_message_at, created_at
		 FROM conversations ORDER BY last_message_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var lastMessage sql.NullTime
		if err := rows.Scan(&conv.ID, &conv.Phone, &conv.BusinessID, &conv.BotActive, &lastMessage, &conv.CreatedAt); err != nil {
			return nil, err
		}
		if lastMessage.Valid {
			conv.LastMessageAt = lastMessage.Time
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
