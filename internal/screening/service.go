// Package screening runs GAD-7 screening conversations on top of the
// session store.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/gad7-screener/internal/domain"
	"github.com/ashureev/gad7-screener/internal/gad7"
	"github.com/ashureev/gad7-screener/internal/store"
	"github.com/ashureev/gad7-screener/internal/transcript"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when the session does not exist or
	// belongs to another user.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidState is returned when a stored protocol state cannot be
	// decoded.
	ErrInvalidState = gad7.ErrInvalidState
)

// titleDateLayout formats the date suffix of a renamed session title.
const titleDateLayout = "Jan 02, 2006"

// ChatRequest is one inbound user message.
type ChatRequest struct {
	Message   string
	UserID    string
	SessionID string
	// Channel tags transcript events, e.g. "chat_http" or "chat_ws".
	Channel string
}

// ChatResponse is the reply to a ChatRequest.
type ChatResponse struct {
	Reply     string
	SessionID string
	Crisis    bool
}

// Service orchestrates one screening turn: load, step, persist.
type Service struct {
	repo       store.Repository
	machine    *gad7.Machine
	transcript transcript.Logger
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTranscript records every message to logger.
func WithTranscript(logger transcript.Logger) Option {
	return func(s *Service) { s.transcript = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces the random session ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithLogger sets the logger used for degraded persistence paths.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a screening service.
func NewService(repo store.Repository, machine *gad7.Machine, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		machine:    machine,
		transcript: transcript.Noop(),
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage processes one user message and returns the bot reply.
//
// Only session lookup and state decoding fail the call. Once the state
// machine has produced a reply, persistence failures are logged and the
// reply is still returned.
func (s *Service) HandleMessage(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	session, state, err := s.loadOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("session_id", session.ID, "user_id", req.UserID)

	turn := gad7.Turn{
		Text: req.Message,
		History: func(ctx context.Context) []gad7.Utterance {
			return s.history(ctx, session.ID)
		},
	}
	if state.Phase == gad7.PhaseAgeScreen {
		count, err := s.repo.CountMessages(ctx, session.ID)
		if err != nil {
			log.Warn("failed to count messages, assuming conversation has started", "error", err)
		}
		turn.FirstMessage = err == nil && count == 0
	}

	result := s.machine.Step(ctx, state, turn)

	if result.Scored != nil {
		if err := s.repo.AppendResponse(ctx, &domain.ScoredResponse{
			SessionID:      session.ID,
			UserID:         req.UserID,
			QuestionNumber: result.Scored.Question,
			QuestionText:   result.Scored.Text,
			UserResponse:   result.Scored.Answer,
			Score:          result.Scored.Score,
			CreatedAt:      s.now(),
		}); err != nil {
			log.Error("failed to save scored response", "question", result.Scored.Question, "error", err)
		}
	}

	if err := s.saveState(ctx, session.ID, result.State); err != nil {
		log.Error("failed to save protocol state", "error", err)
	}

	now := s.now()
	if err := s.repo.AppendMessages(ctx,
		&domain.ChatMessage{SessionID: session.ID, UserID: req.UserID, Sender: domain.SenderUser, Message: req.Message, CreatedAt: now},
		&domain.ChatMessage{SessionID: session.ID, UserID: req.UserID, Sender: domain.SenderBot, Message: result.Reply, CreatedAt: now},
	); err != nil {
		log.Error("failed to append messages", "error", err)
	}

	if session.HasDefaultTitle() {
		title := fmt.Sprintf("%s - %s", domain.TitleScreening, now.UTC().Format(titleDateLayout))
		if _, err := s.repo.RenameIfDefault(ctx, session.ID, title); err != nil {
			log.Warn("failed to rename session", "error", err)
		}
	}

	s.record(req, session.ID, result)

	return &ChatResponse{
		Reply:     result.Reply,
		SessionID: session.ID,
		Crisis:    result.Crisis,
	}, nil
}

// StartNewSession creates an empty session for userID. An empty title
// uses the default "New Chat".
func (s *Service) StartNewSession(ctx context.Context, userID, title string) (*domain.ChatSession, error) {
	if title == "" {
		title = domain.TitleNewChat
	}
	return s.createSession(ctx, userID, title)
}

func (s *Service) loadOrCreate(ctx context.Context, req ChatRequest) (*domain.ChatSession, gad7.State, error) {
	if req.SessionID == "" {
		session, err := s.createSession(ctx, req.UserID, domain.TitleScreening)
		if err != nil {
			return nil, gad7.State{}, err
		}
		return session, gad7.NewState(), nil
	}

	session, err := s.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gad7.State{}, ErrSessionNotFound
		}
		return nil, gad7.State{}, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != req.UserID {
		return nil, gad7.State{}, ErrSessionNotFound
	}

	state, err := gad7.DecodeState(session.ProtocolState)
	if err != nil {
		return nil, gad7.State{}, fmt.Errorf("session %s: %w", session.ID, err)
	}
	if session.Completed {
		state.MarkCompleted()
	}
	return session, state, nil
}

func (s *Service) createSession(ctx context.Context, userID, title string) (*domain.ChatSession, error) {
	initial, err := gad7.EncodeState(gad7.NewState())
	if err != nil {
		return nil, fmt.Errorf("encode initial state: %w", err)
	}

	now := s.now()
	session := &domain.ChatSession{
		ID:            s.newID(),
		UserID:        userID,
		Title:         title,
		ProtocolType:  domain.ProtocolGAD7,
		ProtocolState: initial,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Service) saveState(ctx context.Context, sessionID string, state gad7.State) error {
	encoded, err := gad7.EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	update := domain.StateUpdate{
		ProtocolState: encoded,
		TotalScore:    state.TotalScore,
		Completed:     state.Completed(),
	}
	if state.Finished() {
		update.SeverityLevel = string(gad7.SeverityOf(state.TotalScore))
	}
	return s.repo.SaveState(ctx, sessionID, update)
}

// history maps the message log to generation-fallback utterances.
func (s *Service) history(ctx context.Context, sessionID string) []gad7.Utterance {
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to load conversation history", "session_id", sessionID, "error", err)
		return nil
	}
	out := make([]gad7.Utterance, 0, len(msgs))
	for _, m := range msgs {
		role := "assistant"
		if m.Sender == domain.SenderUser {
			role = "user"
		}
		out = append(out, gad7.Utterance{Role: role, Content: m.Message})
	}
	return out
}

func (s *Service) record(req ChatRequest, sessionID string, result gad7.Result) {
	channel := req.Channel
	if channel == "" {
		channel = "chat_http"
	}
	now := s.now().UTC()
	s.transcript.Log(transcript.Event{
		Timestamp: now,
		UserID:    req.UserID,
		SessionID: sessionID,
		Channel:   channel,
		Direction: transcript.DirectionInbound,
		EventType: "chat_user_message",
		Content:   req.Message,
	})
	s.transcript.Log(transcript.Event{
		Timestamp: now,
		UserID:    req.UserID,
		SessionID: sessionID,
		Channel:   channel,
		Direction: transcript.DirectionOutbound,
		EventType: "chat_bot_message",
		Content:   result.Reply,
		Crisis:    result.Crisis,
	})
}
