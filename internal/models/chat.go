package models

import "time"

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId,omitempty"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	IsError   bool      `json:"isError,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
}
