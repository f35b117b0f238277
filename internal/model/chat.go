package model

import "time"

// ChatSession is one stored conversation. Deleting a session cascades its
// messages.
type ChatSession struct {
	ID        string    `json:"session_id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ChatMessage is one turn of a stored conversation. Role is restricted to
// the completion message roles; Reasoning carries the auxiliary channel
// emitted by reasoning-capable upstreams.
type ChatMessage struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Reasoning string    `json:"reasoning,omitempty" db:"reasoning"`
	CreatedAt time.Time `json:"timestamp" db:"created_at"`
}
