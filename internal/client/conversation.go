package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultTitle   = "New Chat"
	FailureMessage = "Failed to get response. Please try again."
)

var ErrEmptyPrompt = errors.New("prompt is empty")

// Conversation is the chat currently being written. Prompts go through a
// Queue, so replies land in the order the prompts were submitted.
type Conversation struct {
	client *Client
	userID string
	model  string
	logger *zap.Logger
	now    func() time.Time
	queue  *Queue

	onReply func(models.Message)
	onDelta func(Entry, string)

	mu   sync.Mutex
	chat models.Chat
	// changed is set once the chat holds messages the server has not seen.
	changed bool
}

type ConversationOption func(*Conversation)

// WithReplyHandler registers fn to be called with every assistant or error
// message as it is added.
func WithReplyHandler(fn func(models.Message)) ConversationOption {
	return func(c *Conversation) { c.onReply = fn }
}

// WithDeltaHandler registers fn to be called with each piece of a reply while
// it streams in. Pieces of one entry arrive in order, before its reply.
func WithDeltaHandler(fn func(entry Entry, delta string)) ConversationOption {
	return func(c *Conversation) { c.onDelta = fn }
}

func NewConversation(ctx context.Context, c *Client, userID, model string, logger *zap.Logger, opts ...ConversationOption) *Conversation {
	conv := &Conversation{
		client: c,
		userID: userID,
		model:  model,
		logger: logger,
		now:    time.Now,
		chat:   models.Chat{Title: DefaultTitle},
	}
	for _, opt := range opts {
		opt(conv)
	}
	conv.queue = NewQueue(ctx, conv.generate, conv.handleResult, logger)
	return conv
}

// Submit records the user's message and queues the prompt. The first prompt
// of a chat becomes its title.
func (c *Conversation) Submit(prompt string) (Entry, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Entry{}, ErrEmptyPrompt
	}

	c.mu.Lock()
	if len(c.chat.Messages) == 0 {
		c.chat.Title = prompt
	}
	c.appendLocked(prompt, true, false)
	c.mu.Unlock()

	return c.queue.Enqueue(prompt), nil
}

func (c *Conversation) generate(ctx context.Context, entry Entry) (string, error) {
	stream, err := c.client.Generate(ctx, GenerateRequest{Model: c.model, Prompt: entry.Prompt})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var onDelta DeltaFunc
	if c.onDelta != nil {
		onDelta = func(delta string) { c.onDelta(entry, delta) }
	}
	return Accumulate(stream, c.logger, onDelta)
}

func (c *Conversation) handleResult(res Result) {
	var reply models.Message
	c.mu.Lock()
	switch {
	case res.Err != nil:
		reply = c.appendLocked(FailureMessage, false, true)
	case strings.TrimSpace(res.Response) == "":
		c.mu.Unlock()
		c.logger.Debug("empty response", zap.String("entryId", res.Entry.ID))
		return
	default:
		reply = c.appendLocked(res.Response, false, false)
	}
	c.mu.Unlock()

	if c.onReply != nil {
		c.onReply(reply)
	}
}

func (c *Conversation) appendLocked(content string, isUser, isError bool) models.Message {
	ts := c.now().UTC()
	if n := len(c.chat.Messages); n > 0 && ts.Before(c.chat.Messages[n-1].Timestamp) {
		ts = c.chat.Messages[n-1].Timestamp
	}
	msg := models.Message{
		Content:   content,
		IsUser:    isUser,
		IsError:   isError,
		Timestamp: ts,
	}
	c.chat.Messages = append(c.chat.Messages, msg)
	c.changed = true
	return msg
}

func (c *Conversation) Title() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat.Title
}

// Messages returns a copy of the messages so far.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.chat.Messages...)
}

// Pending counts prompts that have not been answered yet.
func (c *Conversation) Pending() int {
	return c.queue.Len()
}

// Wait blocks until every submitted prompt has been answered or failed.
func (c *Conversation) Wait() {
	c.queue.Wait()
}

// Save stores the chat on the server. It returns nil when there is nothing
// new to save. Chats cannot be updated in place, so saving a reopened chat
// that was continued stores it again as a new chat.
func (c *Conversation) Save(ctx context.Context) (*models.Chat, error) {
	c.mu.Lock()
	title := c.chat.Title
	messages := append([]models.Message(nil), c.chat.Messages...)
	changed := c.changed
	c.mu.Unlock()

	if len(messages) == 0 || !changed {
		return nil, nil
	}
	saved, err := c.client.CreateChat(ctx, c.userID, title, messages)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.chat.Messages) == len(messages) {
		c.changed = false
	}
	c.mu.Unlock()

	c.logger.Info("saved chat", zap.String("chatId", saved.ID), zap.Int("messages", len(saved.Messages)))
	return saved, nil
}

// New waits for outstanding prompts, saves the current chat and starts an
// empty one. The chat is kept when saving fails.
func (c *Conversation) New(ctx context.Context) (*models.Chat, error) {
	return c.switchTo(ctx, models.Chat{Title: DefaultTitle})
}

// Open saves the current chat like New and continues chat instead.
func (c *Conversation) Open(ctx context.Context, chat models.Chat) (*models.Chat, error) {
	chat.Messages = append([]models.Message(nil), chat.Messages...)
	return c.switchTo(ctx, chat)
}

func (c *Conversation) switchTo(ctx context.Context, next models.Chat) (*models.Chat, error) {
	c.Wait()
	saved, err := c.Save(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chat = next
	c.changed = false
	c.mu.Unlock()
	return saved, nil
}
