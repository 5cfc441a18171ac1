package domain

import (
	"time"
)

// Default session titles. A session still carrying one of these is renamed
// once the conversation has real content.
const (
	TitleNewChat   = "New Chat"
	TitleScreening = "GAD-7 Screening"
)

// ProtocolGAD7 tags sessions driven by the GAD-7 protocol.
const ProtocolGAD7 = "GAD7"

// ChatSession is one screening conversation.
type ChatSession struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	ProtocolType  string    `json:"protocol_type"`
	ProtocolState []byte    `json:"-"`
	Completed     bool      `json:"protocol_completed"`
	TotalScore    int       `json:"total_score"`
	SeverityLevel string    `json:"severity_level,omitempty"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasDefaultTitle reports whether the title was never set by content or the user.
func (s *ChatSession) HasDefaultTitle() bool {
	return s.Title == TitleNewChat || s.Title == TitleScreening
}

// StateUpdate is the protocol progress written after each turn.
type StateUpdate struct {
	ProtocolState []byte
	TotalScore    int
	Completed     bool
	// SeverityLevel is left unchanged when empty.
	SeverityLevel string
}
