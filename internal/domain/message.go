package domain

import (
	"time"
)

// Sender tags who authored a logged message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ChatMessage is one entry of a session's durable message log.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredResponse is the append-only record of one answered question.
type ScoredResponse struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	QuestionNumber int       `json:"question_number"`
	QuestionText   string    `json:"question_text"`
	UserResponse   string    `json:"user_response"`
	Score          int       `json:"score"`
	CreatedAt      time.Time `json:"created_at"`
}
