// Package chats stores and lists per-user chat history.
package chats

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RichardoC/ollama-chat/internal/apperr"
	"github.com/RichardoC/ollama-chat/internal/db"
	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTitle  = "New Chat"
	titleMaxRunes = 30
	listFanout    = 4
	titleTimeout  = 20 * time.Second
)

// Titler summarizes a prompt into a chat title.
type Titler interface {
	Title(ctx context.Context, prompt string) (string, error)
}

type Service struct {
	store  db.Store
	titler Titler
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithTitler enables model-generated titles for chats saved without one.
func WithTitler(t Titler) Option {
	return func(s *Service) { s.titler = t }
}

func NewService(store db.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateChatRequest struct {
	UserID   string           `json:"userId"`
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
}

// CreateChat inserts the chat row and then each message in order. The
// inserts are independent: a failure part way leaves the chat with the
// messages written so far.
func (s *Service) CreateChat(ctx context.Context, req CreateChatRequest) (*models.Chat, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.BadRequest("User ID is required")
	}

	chat := &models.Chat{
		UserID:    req.UserID,
		Title:     strings.TrimSpace(req.Title),
		Timestamp: s.now().UTC().Truncate(time.Microsecond),
		Messages:  make([]models.Message, len(req.Messages)),
	}

	var prev time.Time
	for i, m := range req.Messages {
		m.ID = ""
		if m.Timestamp.IsZero() {
			m.Timestamp = prev
			if i == 0 {
				m.Timestamp = chat.Timestamp
			}
		}
		m.Timestamp = m.Timestamp.UTC().Truncate(time.Microsecond)
		if m.Timestamp.Before(prev) {
			return nil, apperr.BadRequest("Messages must be in chronological order")
		}
		prev = m.Timestamp
		chat.Messages[i] = m
	}

	if chat.Title == "" {
		chat.Title = s.deriveTitle(ctx, chat.Messages)
	}

	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to create chat", err)
	}

	for i := range chat.Messages {
		chat.Messages[i].ChatID = chat.ID
		if err := s.store.AddMessage(ctx, &chat.Messages[i], i); err != nil {
			s.logger.Error("chat left with partial messages",
				zap.String("chatId", chat.ID),
				zap.Int("written", i),
				zap.Int("total", len(chat.Messages)),
				zap.Error(err))
			return nil, apperr.Wrap(apperr.KindInternal, "Failed to create chat", err)
		}
	}

	s.logger.Debug("created chat",
		zap.String("chatId", chat.ID),
		zap.String("userId", chat.UserID),
		zap.Int("messages", len(chat.Messages)))
	return chat, nil
}

// ListChats returns the user's chats newest first, each with its messages
// in chronological order.
func (s *Service) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.BadRequest("User ID is required")
	}

	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to fetch chats", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFanout)
	for i := range chats {
		g.Go(func() error {
			msgs, err := s.store.ListMessages(gctx, chats[i].ID)
			if err != nil {
				return err
			}
			chats[i].Messages = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to fetch chats", err)
	}
	return chats, nil
}

func (s *Service) deriveTitle(ctx context.Context, messages []models.Message) string {
	prompt := firstUserMessage(messages)
	if prompt == "" {
		return DefaultTitle
	}
	if s.titler != nil {
		tctx, cancel := context.WithTimeout(ctx, titleTimeout)
		defer cancel()
		title, err := s.titler.Title(tctx, prompt)
		if err == nil && strings.TrimSpace(title) != "" {
			return strings.TrimSpace(title)
		}
		s.logger.Warn("title generation failed, truncating prompt", zap.Error(err))
	}
	return TruncateTitle(prompt)
}

func firstUserMessage(messages []models.Message) string {
	for _, m := range messages {
		if m.IsUser && strings.TrimSpace(m.Content) != "" {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

// TruncateTitle shortens prompt to at most 30 runes, marking the cut with "...".
func TruncateTitle(prompt string) string {
	prompt = strings.Join(strings.Fields(prompt), " ")
	if utf8.RuneCountInString(prompt) <= titleMaxRunes {
		return prompt
	}
	runes := []rune(prompt)
	return string(runes[:titleMaxRunes]) + "..."
}
