package session

import (
	"sync"
	"time"

	"support-chatbot/internal/helper"
	"support-chatbot/internal/models"
)

const (
	defaultTitle = "New Chat"
	titleMaxLen  = 50
)

// ConversationSession is the in-memory ordered transcript of one chat
// thread. The title is derived once from the first non-empty user
// message and never recomputed.
type ConversationSession struct {
	SessionID   string
	Messages    []models.Message
	Title       string
	CreatedAt   time.Time
	LastUpdated time.Time

	// Serializes turns on this session. The host usually serializes a
	// user's events already; the mutex covers two tabs submitting at
	// once.
	mu sync.Mutex
}

// New creates a session, generating an id when none is given.
func New(sessionID string) *ConversationSession {
	if sessionID == "" {
		sessionID = helper.GenerateUUID()
	}
	now := time.Now()
	return &ConversationSession{
		SessionID:   sessionID,
		Title:       defaultTitle,
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// AddMessage appends a transcript entry and derives the title from the
// first non-empty user message.
func (s *ConversationSession) AddMessage(role, content string) {
	s.Messages = append(s.Messages, models.Message{Role: role, Content: content})
	s.LastUpdated = time.Now()

	if role == models.RoleUser && s.Title == defaultTitle && content != "" {
		s.Title = truncateTitle(content)
	}
}

// History returns the transcript so far.
func (s *ConversationSession) History() []models.Message {
	return s.Messages
}

// Lock takes the per-session turn lock.
func (s *ConversationSession) Lock() { s.mu.Lock() }

// Unlock releases the per-session turn lock.
func (s *ConversationSession) Unlock() { s.mu.Unlock() }

func truncateTitle(content string) string {
	if len(content) > titleMaxLen {
		return content[:titleMaxLen] + "..."
	}
	return content
}
