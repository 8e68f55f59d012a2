package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RichardoC/ollama-chat/internal/models"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_user_ts ON chats (user_id, timestamp);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    chat_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    content TEXT NOT NULL,
    is_user BOOLEAN NOT NULL,
    is_error BOOLEAN NOT NULL DEFAULT FALSE,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, timestamp, position);`

type SQLiteStore struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

func NewSQLite(dbPath string, maxConns int, acquireTimeout time.Duration) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, acquireTimeout: acquireTimeout}, nil
}

// conn checks a connection out of the pool, waiting at most acquireTimeout.
func (s *SQLiteStore) conn(ctx context.Context) (*sql.Conn, error) {
	actx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}
	c, err := s.db.Conn(actx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err = c.ExecContext(ctx, `
        INSERT INTO users (id, username, password_hash, created_at)
        VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var u models.User
	err = c.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	_, err = c.ExecContext(ctx, `
        INSERT INTO chats (id, user_id, title, timestamp)
        VALUES (?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Title, chat.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg *models.Message, position int) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err = c.ExecContext(ctx, `
        INSERT INTO messages (id, chat_id, position, content, is_user, is_error, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, position, msg.Content, msg.IsUser, msg.IsError, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	rows, err := c.QueryContext(ctx, `
        SELECT id, user_id, title, timestamp
        FROM chats
        WHERE user_id = ?
        ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.Chat, 0)
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	rows, err := c.QueryContext(ctx, `
        SELECT id, chat_id, content, is_user, is_error, timestamp
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp ASC, position ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Content, &msg.IsUser, &msg.IsError, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
