// Package session holds in-memory conversation transcripts and their
// lifecycle: creation, restore from persisted history, sidebar listing
// and eviction on logout.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"support-chatbot/internal/models"
)

// HistoryStore is the slice of the persistence boundary the manager
// reads: session summaries and full per-session replays.
type HistoryStore interface {
	GetSessionSummaries(ctx context.Context, userID int64) ([]models.SessionSummary, error)
	GetConversationsBySession(ctx context.Context, userID int64, sessionID string) ([]models.TurnRecord, error)
}

// Manager exclusively owns the user → session map. The orchestrator
// only ever receives session references through it.
type Manager struct {
	store HistoryStore

	mu       sync.Mutex
	sessions map[int64]map[string]*ConversationSession
}

func NewManager(store HistoryStore) *Manager {
	return &Manager{
		store:    store,
		sessions: make(map[int64]map[string]*ConversationSession),
	}
}

// GetOrCreate returns the user's session with the given id, or a fresh
// one (with a generated id when sessionID is empty).
func (m *Manager) GetOrCreate(userID int64, sessionID string) *ConversationSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	userSessions := m.userSessions(userID)
	if sessionID != "" {
		if s, ok := userSessions[sessionID]; ok {
			return s
		}
	}
	s := New(sessionID)
	userSessions[s.SessionID] = s
	log.Info().Str("session_id", s.SessionID).Int64("user_id", userID).Msg("Created session")
	return s
}

// Restore rebuilds a session from persisted turns, oldest first, into
// user/assistant pairs. Idempotent: a session already resident in
// memory is returned unchanged rather than re-replayed.
func (m *Manager) Restore(ctx context.Context, userID int64, sessionID string) (*ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userSessions := m.userSessions(userID)
	if s, ok := userSessions[sessionID]; ok {
		return s, nil
	}

	records, err := m.store.GetConversationsBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replaying session %s: %w", sessionID, err)
	}

	s := New(sessionID)
	for _, rec := range records {
		s.Messages = append(s.Messages,
			models.Message{Role: models.RoleUser, Content: rec.Message},
			models.Message{Role: models.RoleAssistant, Content: rec.Response},
		)
	}
	if len(records) > 0 {
		s.Title = truncateTitle(records[0].Message)
		s.LastUpdated = records[len(records)-1].Timestamp
	}

	userSessions[sessionID] = s
	log.Info().Str("session_id", sessionID).Int("turns", len(records)).Int64("user_id", userID).Msg("Restored session")
	return s, nil
}

// SidebarEntry is one row of the session list.
type SidebarEntry struct {
	Title     string `json:"title"`
	SessionID string `json:"session_id"`
}

// Sidebar merges in-memory sessions with persisted ones, de-duplicated
// by session id and ordered most-recently-updated first. An in-memory
// session supersedes its persisted summary because it carries turns not
// yet flushed.
func (m *Manager) Sidebar(ctx context.Context, userID int64) ([]SidebarEntry, error) {
	summaries, err := m.store.GetSessionSummaries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	type row struct {
		entry   SidebarEntry
		updated int64
	}
	merged := make(map[string]row)

	for _, s := range summaries {
		merged[s.SessionID] = row{
			entry:   SidebarEntry{Title: truncateTitle(s.FirstMessage), SessionID: s.SessionID},
			updated: s.LastUpdated.UnixNano(),
		}
	}

	m.mu.Lock()
	for sid, sess := range m.sessions[userID] {
		if len(sess.Messages) == 0 || sess.Title == defaultTitle {
			continue
		}
		merged[sid] = row{
			entry:   SidebarEntry{Title: sess.Title, SessionID: sid},
			updated: sess.LastUpdated.UnixNano(),
		}
	}
	m.mu.Unlock()

	rows := make([]row, 0, len(merged))
	for _, r := range merged {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].updated > rows[j].updated })

	entries := make([]SidebarEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry
	}
	return entries, nil
}

// Evict drops all in-memory sessions for a user. Persisted history is
// untouched and the sessions remain restorable.
func (m *Manager) Evict(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

func (m *Manager) userSessions(userID int64) map[string]*ConversationSession {
	if m.sessions[userID] == nil {
		m.sessions[userID] = make(map[string]*ConversationSession)
	}
	return m.sessions[userID]
}
