// Package db persists users, chats and messages.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/RichardoC/ollama-chat/internal/config"
	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the relational backing for the auth and chat services. Every call
// acquires its own connection and releases it before returning; there are
// no multi-statement transactions.
type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	CreateChat(ctx context.Context, chat *models.Chat) error
	AddMessage(ctx context.Context, msg *models.Message, position int) error
	// ListChats returns the user's chats newest first, without messages.
	ListChats(ctx context.Context, userID string) ([]models.Chat, error)
	// ListMessages returns a chat's messages in chronological order.
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver and applies the schema.
func Open(ctx context.Context, cfg config.Database, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "sqlite":
		return NewSQLite(cfg.Path, cfg.MaxConns, cfg.AcquireTimeout)
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
