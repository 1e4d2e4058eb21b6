package db

import (
	"time"

	"github.com/uptrace/bun"
)

// User account states.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusBlocked  = "blocked"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64      `bun:"id,pk,autoincrement"`
	Email        string     `bun:"email,notnull,unique"`
	FullName     string     `bun:"full_name,notnull"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	LastLogin    *time.Time `bun:"last_login"`
	Status       string     `bun:"status,notnull,default:'active'"`
	TotalQueries int        `bun:"total_queries,default:0"`
}

// Conversation is one completed turn: immutable once written, appended
// only when a turn finishes successfully.
type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID             int64     `bun:"id,pk,autoincrement"`
	UserID         int64     `bun:"user_id,notnull"`
	SessionID      string    `bun:"session_id,notnull"`
	Message        string    `bun:"message,notnull"`
	Response       string    `bun:"response,notnull"`
	Timestamp      time.Time `bun:"timestamp,notnull"`
	Type           string    `bun:"conversation_type,notnull,default:'TECHNICAL'"`
	ResponseTimeMs int       `bun:"response_time_ms"`
	// JSON-encoded list of attachment metadata, null for text-only turns.
	Attachments *string `bun:"attachments"`
}
