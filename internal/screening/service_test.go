package screening

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/gad7-screener/internal/domain"
	"github.com/ashureev/gad7-screener/internal/gad7"
	"github.com/ashureev/gad7-screener/internal/store"
	"github.com/ashureev/gad7-screener/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

type fixedClassifier struct {
	verdict gad7.Verdict
}

func (f *fixedClassifier) Classify(context.Context, string, string) gad7.Verdict {
	return f.verdict
}

type recordingResponder struct {
	reply   string
	history []gad7.Utterance
	calls   int
}

func (r *recordingResponder) Respond(_ context.Context, _ string, history []gad7.Utterance, _ string) string {
	r.calls++
	r.history = history
	return r.reply
}

type memoryTranscript struct {
	mu     sync.Mutex
	events []transcript.Event
}

func (m *memoryTranscript) Log(e transcript.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memoryTranscript) Close() error { return nil }

type harness struct {
	svc        *Service
	repo       store.Repository
	classifier *fixedClassifier
	responder  *recordingResponder
	transcript *memoryTranscript
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "screener.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return newHarnessWithRepo(t, repo)
}

func newHarnessWithRepo(t *testing.T, repo store.Repository) *harness {
	t.Helper()
	h := &harness{
		repo:       repo,
		classifier: &fixedClassifier{verdict: gad7.VerdictYes},
		responder:  &recordingResponder{reply: "Let me rephrase that."},
		transcript: &memoryTranscript{},
	}
	n := 0
	h.svc = NewService(repo, gad7.NewMachine(h.classifier, h.responder),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("sess-%d", n) }),
		WithTranscript(h.transcript),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return h
}

func (h *harness) send(t *testing.T, sessionID, text string) *ChatResponse {
	t.Helper()
	resp, err := h.svc.HandleMessage(context.Background(), ChatRequest{
		Message: text, UserID: "user-1", SessionID: sessionID,
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) state(t *testing.T, sessionID string) gad7.State {
	t.Helper()
	session, err := h.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	state, err := gad7.DecodeState(session.ProtocolState)
	require.NoError(t, err)
	return state
}

// passGates walks a new session through age, crisis and consent screens.
func (h *harness) passGates(t *testing.T) string {
	t.Helper()
	resp := h.send(t, "", "hello")
	id := resp.SessionID
	h.send(t, id, "yes")
	h.send(t, id, "no")
	h.send(t, id, "yes")
	return id
}

func TestFirstMessageCreatesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp := h.send(t, "", "hello")
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, gad7.AgeQuestion, resp.Reply)
	assert.False(t, resp.Crisis)

	session, err := h.repo.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, domain.ProtocolGAD7, session.ProtocolType)
	assert.Equal(t, "GAD-7 Screening - Mar 10, 2026", session.Title)
	assert.Equal(t, gad7.PhaseAgeScreen, h.state(t, resp.SessionID).Phase)

	msgs, err := h.repo.ListMessages(ctx, resp.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Message)
	assert.Equal(t, domain.SenderBot, msgs[1].Sender)
	assert.Equal(t, gad7.AgeQuestion, msgs[1].Message)
}

func TestAgeRejection(t *testing.T) {
	h := newHarness(t)
	id := h.send(t, "", "hi").SessionID

	resp := h.send(t, id, "no")
	assert.Equal(t, gad7.UnderageMessage, resp.Reply)

	session, err := h.repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, session.Completed)
	assert.Empty(t, session.SeverityLevel)

	assert.Equal(t, gad7.AlreadyCompletedMessage, h.send(t, id, "hello again").Reply)
}

func TestFullScreeningRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.passGates(t)

	var last *ChatResponse
	for q := 1; q <= gad7.QuestionCount; q++ {
		assert.Equal(t, gad7.FrequencyQuestion, h.send(t, id, "yes, a lot").Reply)
		last = h.send(t, id, "4")
	}
	assert.Contains(t, last.Reply, "21")

	session, err := h.repo.GetSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, session.Completed)
	assert.Equal(t, gad7.MaxScore, session.TotalScore)
	assert.Equal(t, string(gad7.SeveritySevere), session.SeverityLevel)

	responses, err := h.repo.ListResponses(ctx, id)
	require.NoError(t, err)
	require.Len(t, responses, gad7.QuestionCount)
	for i, r := range responses {
		assert.Equal(t, i+1, r.QuestionNumber)
		assert.Equal(t, 3, r.Score)
		assert.Equal(t, "4", r.UserResponse)
	}

	assert.Equal(t, gad7.AlreadyCompletedMessage, h.send(t, id, "what now?").Reply)
	session, err = h.repo.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, gad7.MaxScore, session.TotalScore)
}

func TestSymptomAbsentScoresZero(t *testing.T) {
	h := newHarness(t)
	id := h.passGates(t)

	h.classifier.verdict = gad7.VerdictNo
	q2, _ := gad7.QuestionAt(2)
	assert.Equal(t, q2.Text, h.send(t, id, "not really").Reply)

	state := h.state(t, id)
	assert.Equal(t, gad7.PhaseQuestion, state.Phase)
	assert.Equal(t, 2, state.Question)
	assert.Equal(t, 0, state.TotalScore)

	responses, err := h.repo.ListResponses(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, 0, responses[0].Score)
}

func TestUnclearAnswerUsesRecentHistory(t *testing.T) {
	h := newHarness(t)
	id := h.passGates(t)

	h.classifier.verdict = gad7.VerdictUnclear
	resp := h.send(t, id, "what do you mean?")
	assert.Equal(t, "Let me rephrase that.", resp.Reply)

	require.Equal(t, 1, h.responder.calls)
	require.Len(t, h.responder.history, gad7.HistoryWindow)
	assert.Equal(t, gad7.Utterance{Role: "user", Content: "no"}, h.responder.history[0])
	assert.Equal(t, gad7.Utterance{Role: "assistant", Content: gad7.ConsentMessage}, h.responder.history[1])
	assert.Equal(t, gad7.Utterance{Role: "user", Content: "yes"}, h.responder.history[2])
	assert.Equal(t, "assistant", h.responder.history[3].Role)

	state := h.state(t, id)
	assert.Equal(t, gad7.PhaseQuestion, state.Phase)
	assert.Equal(t, 1, state.Question)
}

func TestCrisisKeywordWinsInEveryPhase(t *testing.T) {
	h := newHarness(t)
	id := h.passGates(t)
	h.send(t, id, "yes")

	resp := h.send(t, id, "honestly I want to die")
	assert.True(t, resp.Crisis)
	assert.Equal(t, gad7.CrisisMessage, resp.Reply)

	session, err := h.repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, session.Completed)

	resp = h.send(t, id, "I think about suicide")
	assert.True(t, resp.Crisis)
	assert.Equal(t, gad7.CrisisMessage, resp.Reply)
}

func TestSessionNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.HandleMessage(ctx, ChatRequest{Message: "hi", UserID: "user-1", SessionID: "missing"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	id := h.send(t, "", "hi").SessionID
	_, err = h.svc.HandleMessage(ctx, ChatRequest{Message: "yes", UserID: "intruder", SessionID: id})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestInvalidStoredState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.CreateSession(ctx, &domain.ChatSession{
		ID: "broken", UserID: "user-1", Title: domain.TitleNewChat, ProtocolType: domain.ProtocolGAD7,
		ProtocolState: []byte(`{"phase":"question","question":12}`),
		CreatedAt:     fixedNow, UpdatedAt: fixedNow,
	}))

	_, err := h.svc.HandleMessage(ctx, ChatRequest{Message: "hi", UserID: "user-1", SessionID: "broken"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestLegacyStateResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.CreateSession(ctx, &domain.ChatSession{
		ID: "legacy", UserID: "user-1", Title: domain.TitleScreening, ProtocolType: domain.ProtocolGAD7,
		ProtocolState: []byte(`{"current_question":3,"consent_given":true,"screening_passed":true,"screening_step":2,"awaiting_frequency":true,"total_score":4}`),
		CreatedAt:     fixedNow, UpdatedAt: fixedNow,
	}))

	h.send(t, "legacy", "3")

	state := h.state(t, "legacy")
	assert.Equal(t, gad7.PhaseQuestion, state.Phase)
	assert.Equal(t, 4, state.Question)
	assert.Equal(t, 6, state.TotalScore)
}

func TestStoredCompletedFlagWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.passGates(t)
	require.NoError(t, h.repo.SaveState(ctx, id, domain.StateUpdate{
		ProtocolState: []byte(`{"phase":"question","question":1}`),
		Completed:     true,
	}))

	assert.Equal(t, gad7.AlreadyCompletedMessage, h.send(t, id, "yes").Reply)
}

type flakyRepo struct {
	store.Repository
	err error
}

func (f *flakyRepo) SaveState(context.Context, string, domain.StateUpdate) error { return f.err }

func (f *flakyRepo) AppendMessages(context.Context, ...*domain.ChatMessage) error { return f.err }

func (f *flakyRepo) RenameIfDefault(context.Context, string, string) (bool, error) {
	return false, f.err
}

func TestPersistenceFailuresStillReply(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "screener.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	h := newHarnessWithRepo(t, &flakyRepo{Repository: repo, err: errors.New("disk full")})
	resp := h.send(t, "", "hello")
	assert.Equal(t, gad7.AgeQuestion, resp.Reply)

	count, err := repo.CountMessages(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTranscriptEvents(t *testing.T) {
	h := newHarness(t)
	resp := h.send(t, "", "hello")

	require.Len(t, h.transcript.events, 2)
	in, out := h.transcript.events[0], h.transcript.events[1]
	assert.Equal(t, transcript.DirectionInbound, in.Direction)
	assert.Equal(t, "hello", in.Content)
	assert.Equal(t, "chat_http", in.Channel)
	assert.Equal(t, resp.SessionID, in.SessionID)
	assert.Equal(t, transcript.DirectionOutbound, out.Direction)
	assert.Equal(t, gad7.AgeQuestion, out.Content)
}

func TestStartNewSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.svc.StartNewSession(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, domain.TitleNewChat, session.Title)

	stored, err := h.repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TitleNewChat, stored.Title)
	assert.Equal(t, gad7.PhaseAgeScreen, h.state(t, session.ID).Phase)

	resp := h.send(t, session.ID, "hi")
	assert.Equal(t, gad7.AgeQuestion, resp.Reply)
}
