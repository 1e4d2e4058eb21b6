// Package db is the append-only persistence boundary for users and
// conversation records, backed by Postgres through bun.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"support-chatbot/internal/config"
	"support-chatbot/internal/models"
)

// ErrUserNotFound is returned for lookups of unknown user ids.
var ErrUserNotFound = errors.New("user not found")

type Repo struct {
	db *bun.DB
}

// Connect opens the Postgres connection and wraps it with bun.
func Connect(cfg *config.DatabaseConfig) (*Repo, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(cfg.URL+"?sslmode=disable"),
		pgdriver.WithPassword(cfg.Password),
	))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

// Init creates the tables if they do not exist.
func (r *Repo) Init(ctx context.Context) error {
	for _, model := range []interface{}{(*User)(nil), (*Conversation)(nil)} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	return nil
}

func (r *Repo) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	if user.Status == "" {
		user.Status = StatusActive
	}
	_, err := r.db.NewInsert().Model(user).Exec(ctx)
	return err
}

func (r *Repo) GetUserByID(ctx context.Context, userID int64) (*User, error) {
	user := new(User)
	err := r.db.NewSelect().Model(user).Where("u.id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %d: %w", userID, err)
	}
	return user, nil
}

// VerifyUserAccess reports whether the account may converse. Unknown
// users are denied, not errored.
func (r *Repo) VerifyUserAccess(ctx context.Context, userID int64) (bool, error) {
	user, err := r.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Status == StatusActive, nil
}

func (r *Repo) UpdateUserLogin(ctx context.Context, userID int64) error {
	now := time.Now()
	_, err := r.db.NewUpdate().Model((*User)(nil)).
		Set("last_login = ?", now).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

func (r *Repo) UpdateUserStatus(ctx context.Context, userID int64, status string) error {
	_, err := r.db.NewUpdate().Model((*User)(nil)).
		Set("status = ?", status).
		Where("id = ?", userID).
		Exec(ctx)
	return err
}

// SaveConversation appends one completed turn and bumps the user's
// query counter. The counter update is best-effort: the record is the
// source of truth.
func (r *Repo) SaveConversation(ctx context.Context, conv *Conversation) error {
	if conv.Timestamp.IsZero() {
		conv.Timestamp = time.Now()
	}
	if _, err := r.db.NewInsert().Model(conv).Exec(ctx); err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	if _, err := r.db.NewUpdate().Model((*User)(nil)).
		Set("total_queries = total_queries + 1").
		Where("id = ?", conv.UserID).
		Exec(ctx); err != nil {
		log.Warn().Err(err).Int64("user_id", conv.UserID).Msg("Could not increment query count")
	}
	return nil
}

// GetConversationsBySession replays one session's turns, oldest first.
func (r *Repo) GetConversationsBySession(ctx context.Context, userID int64, sessionID string) ([]models.TurnRecord, error) {
	var convs []Conversation
	err := r.db.NewSelect().Model(&convs).
		Where("c.user_id = ?", userID).
		Where("c.session_id = ?", sessionID).
		Order("timestamp ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", sessionID, err)
	}
	records := make([]models.TurnRecord, len(convs))
	for i, c := range convs {
		records[i] = models.TurnRecord{Message: c.Message, Response: c.Response, Timestamp: c.Timestamp}
	}
	return records, nil
}

// GetSessionSummaries returns one row per distinct session: its first
// message and the time of its latest turn, newest session first.
func (r *Repo) GetSessionSummaries(ctx context.Context, userID int64) ([]models.SessionSummary, error) {
	var rows []struct {
		SessionID    string    `bun:"session_id"`
		FirstMessage string    `bun:"first_message"`
		LastUpdated  time.Time `bun:"last_updated"`
	}
	err := r.db.NewSelect().Model((*Conversation)(nil)).
		Column("session_id").
		ColumnExpr("(SELECT c2.message FROM conversations c2 WHERE c2.user_id = c.user_id AND c2.session_id = c.session_id ORDER BY c2.timestamp ASC LIMIT 1) AS first_message").
		ColumnExpr("MAX(c.timestamp) AS last_updated").
		Where("c.user_id = ?", userID).
		Group("session_id", "user_id").
		OrderExpr("last_updated DESC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("querying session summaries: %w", err)
	}
	summaries := make([]models.SessionSummary, len(rows))
	for i, row := range rows {
		summaries[i] = models.SessionSummary{
			SessionID:    row.SessionID,
			FirstMessage: row.FirstMessage,
			LastUpdated:  row.LastUpdated,
		}
	}
	return summaries, nil
}

// GetUserConversations is the aggregate reporting read used outside the
// chat core (admin views, exports).
func (r *Repo) GetUserConversations(ctx context.Context, userID int64, limit int) ([]Conversation, error) {
	var convs []Conversation
	err := r.db.NewSelect().Model(&convs).
		Where("c.user_id = ?", userID).
		Order("timestamp DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying conversations for user %d: %w", userID, err)
	}
	return convs, nil
}
