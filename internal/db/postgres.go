package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/RichardoC/ollama-chat/internal/config"
	"github.com/RichardoC/ollama-chat/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username VARCHAR(255) NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chats_user_ts ON chats (user_id, timestamp);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	content TEXT NOT NULL,
	is_user BOOLEAN NOT NULL,
	is_error BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, timestamp, position);
`

const pgUniqueViolation = "23505"

type PostgresStore struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

func postgresDSN(cfg config.Database) string {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return dsn.String()
}

// NewPostgres opens a bounded pool, verifies connectivity and applies the
// schema. The caller owns the pool through Close.
func NewPostgres(ctx context.Context, cfg config.Database) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = cfg.IdleTimeout
	if cfg.AcquireTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{pool: pool, acquireTimeout: cfg.AcquireTimeout}, nil
}

func (s *PostgresStore) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}
	conn, err := s.pool.Acquire(actx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return conn, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	err = conn.QueryRow(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		user.ID, user.Username, user.PasswordHash,
	).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (*models.User, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	u := &models.User{}
	err = conn.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	_, err = conn.Exec(ctx,
		`INSERT INTO chats (id, user_id, title, timestamp) VALUES ($1, $2, $3, $4)`,
		chat.ID, chat.UserID, chat.Title, chat.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert chat: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message, position int) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err = conn.Exec(ctx, `
		INSERT INTO messages (id, chat_id, position, content, is_user, is_error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ChatID, position, msg.Content, msg.IsUser, msg.IsError, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, user_id, title, timestamp
		FROM chats
		WHERE user_id = $1
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

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT id, chat_id, content, is_user, is_error, timestamp
		FROM messages
		WHERE chat_id = $1
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
