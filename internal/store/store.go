// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/gad7-screener/internal/domain"
)

// ErrNotFound is returned when a looked-up session does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting users, screening sessions,
// their message logs and scored responses.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// CreateSession inserts a new session. ID and timestamps must be set.
	CreateSession(ctx context.Context, session *domain.ChatSession) error

	// GetSession loads a session by ID, or ErrNotFound.
	GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)

	// ListSessions returns a user's sessions, most recently updated first,
	// with MessageCount populated.
	ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)

	// SaveState writes protocol progress for a session.
	SaveState(ctx context.Context, sessionID string, update domain.StateUpdate) error

	// UpdateTitle sets a session title unconditionally.
	UpdateTitle(ctx context.Context, sessionID, title string) error

	// RenameIfDefault sets the title only while it is still a default title.
	// It reports whether the title changed.
	RenameIfDefault(ctx context.Context, sessionID, title string) (bool, error)

	// DeleteSession removes a session with its messages and responses.
	DeleteSession(ctx context.Context, sessionID string) error

	// AppendMessages appends messages to the log atomically and in order.
	AppendMessages(ctx context.Context, msgs ...*domain.ChatMessage) error

	// ListMessages returns a session's messages in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error)

	// CountMessages returns the number of logged messages for a session.
	CountMessages(ctx context.Context, sessionID string) (int, error)

	// AppendResponse records a scored answer.
	AppendResponse(ctx context.Context, resp *domain.ScoredResponse) error

	// ListResponses returns a session's scored answers ordered by question.
	ListResponses(ctx context.Context, sessionID string) ([]*domain.ScoredResponse, error)

	// DeleteSessionsBefore removes sessions not updated since cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
