package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/RichardoC/ollama-chat/internal/models"
	"github.com/google/uuid"
)

type storedMessage struct {
	msg      models.Message
	position int
}

// MemoryStore keeps everything in process memory. It backs tests and the
// "memory" driver.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	byName   map[string]string
	chats    []models.Chat
	messages map[string][]storedMessage
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		byName:   make(map[string]string),
		messages: make(map[string][]storedMessage),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[user.Username]; exists {
		return ErrDuplicate
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.ID] = *user
	m.byName[user.Username] = user.ID
	return nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	u := m.users[id]
	return &u, nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// DeleteUser exists for tests that exercise sessions outliving their user.
func (m *MemoryStore) DeleteUser(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		delete(m.byName, u.Username)
		delete(m.users, id)
	}
}

func (m *MemoryStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	stored := *chat
	stored.Messages = nil
	m.chats = append(m.chats, stored)
	return nil
}

func (m *MemoryStore) AddMessage(ctx context.Context, msg *models.Message, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], storedMessage{msg: *msg, position: position})
	return nil
}

func (m *MemoryStore) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]models.Chat, 0)
	// Walk backwards so equal timestamps keep newest-inserted first.
	for i := len(m.chats) - 1; i >= 0; i-- {
		if m.chats[i].UserID == userID {
			chats = append(chats, m.chats[i])
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].Timestamp.After(chats[j].Timestamp)
	})
	return chats, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	m.mu.RLock()
	stored := append([]storedMessage(nil), m.messages[chatID]...)
	m.mu.RUnlock()

	sort.SliceStable(stored, func(i, j int) bool {
		a, b := stored[i], stored[j]
		if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
			return a.msg.Timestamp.Before(b.msg.Timestamp)
		}
		return a.position < b.position
	})

	messages := make([]models.Message, 0, len(stored))
	for _, s := range stored {
		messages = append(messages, s.msg)
	}
	return messages, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
