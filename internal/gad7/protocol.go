package gad7

import (
	"context"
	"strings"
)

// Verdict is the closed set of symptom-presence classifications.
type Verdict string

const (
	VerdictYes     Verdict = "YES"
	VerdictNo      Verdict = "NO"
	VerdictUnclear Verdict = "UNCLEAR"
)

// ParseVerdict maps raw oracle output to a verdict. "YES" is checked before
// "NO"; anything else, including "UNCLEAR", is VerdictUnclear.
func ParseVerdict(raw string) Verdict {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(upper, "YES"):
		return VerdictYes
	case strings.Contains(upper, "NO"):
		return VerdictNo
	default:
		return VerdictUnclear
	}
}

// Utterance is one prior turn handed to the generation fallback.
type Utterance struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Classifier decides whether an answer reports the symptom asked about.
// Implementations must not fail; transport problems map to VerdictUnclear.
type Classifier interface {
	Classify(ctx context.Context, question, answer string) Verdict
}

// Responder produces a free-form reply. Implementations must not fail;
// transport problems map to a safe apology text.
type Responder interface {
	Respond(ctx context.Context, systemPrompt string, history []Utterance, message string) string
}

// HistoryWindow is how many prior utterances reach the generation fallback.
const HistoryWindow = 4

// Turn is one inbound user message.
type Turn struct {
	Text string
	// FirstMessage is true when the session has no logged messages yet.
	FirstMessage bool
	// History loads prior utterances, oldest first. It is only called on
	// the generation fallback path and may be nil.
	History func(ctx context.Context) []Utterance
}

// ScoredAnswer is emitted once per question when its score is fixed.
type ScoredAnswer struct {
	Question int
	Text     string
	Answer   string
	Score    int
}

// Result is the outcome of one step.
type Result struct {
	State  State
	Reply  string
	Crisis bool
	Scored *ScoredAnswer
}

// Completed reports whether the step left the conversation finished.
func (r Result) Completed() bool {
	return r.State.Completed()
}

// Machine drives a single screening conversation one message at a time.
type Machine struct {
	classifier Classifier
	responder  Responder
}

// NewMachine creates a state machine backed by the given oracle adapters.
func NewMachine(classifier Classifier, responder Responder) *Machine {
	return &Machine{classifier: classifier, responder: responder}
}

// Step consumes one message. The input state is not modified.
func (m *Machine) Step(ctx context.Context, state State, turn Turn) Result {
	s := state.clone()

	if MatchesCrisisKeywords(turn.Text) {
		// A completed state keeps its outcome; only the reply changes.
		if s.Phase != PhaseCompleted {
			s.complete(OutcomeCrisis)
		}
		return Result{State: s, Reply: CrisisMessage, Crisis: true}
	}

	switch s.Phase {
	case PhaseCompleted:
		return Result{State: s, Reply: AlreadyCompletedMessage}
	case PhaseAgeScreen:
		return m.ageScreen(s, turn)
	case PhaseCrisisScreen:
		return m.crisisScreen(s, turn)
	case PhaseConsent:
		return m.consent(s, turn)
	case PhaseQuestion:
		return m.question(ctx, s, turn)
	case PhaseAwaitingFrequency:
		return m.frequency(s, turn)
	default:
		// Unknown phases never pass DecodeState; restart defensively.
		s.Reset()
		return Result{State: s, Reply: AgeQuestion}
	}
}

func (m *Machine) ageScreen(s State, turn Turn) Result {
	switch {
	case turn.FirstMessage:
		return Result{State: s, Reply: AgeQuestion}
	case MatchesAffirmative(turn.Text):
		s.Phase = PhaseCrisisScreen
		return Result{State: s, Reply: CrisisScreenQuestion}
	case MatchesNegative(turn.Text):
		s.complete(OutcomeUnderage)
		return Result{State: s, Reply: UnderageMessage}
	default:
		return Result{State: s, Reply: AgeReprompt}
	}
}

func (m *Machine) crisisScreen(s State, turn Turn) Result {
	switch {
	case MatchesNegative(turn.Text):
		s.Phase = PhaseConsent
		return Result{State: s, Reply: ConsentMessage}
	case MatchesAffirmative(turn.Text):
		s.complete(OutcomeCrisis)
		return Result{State: s, Reply: CrisisMessage, Crisis: true}
	default:
		return Result{State: s, Reply: CrisisReprompt}
	}
}

func (m *Machine) consent(s State, turn Turn) Result {
	if !matchesConsent(turn.Text) {
		s.complete(OutcomeDeclined)
		return Result{State: s, Reply: DeclineMessage}
	}
	s.Phase = PhaseQuestion
	s.Question = 1
	return Result{State: s, Reply: consentAck + "\n\n" + questionText(1)}
}

func (m *Machine) question(ctx context.Context, s State, turn Turn) Result {
	text := questionText(s.Question)

	switch m.classifier.Classify(ctx, text, turn.Text) {
	case VerdictYes:
		s.Phase = PhaseAwaitingFrequency
		return Result{State: s, Reply: FrequencyQuestion}
	case VerdictNo:
		scored := &ScoredAnswer{Question: s.Question, Text: text, Answer: turn.Text, Score: 0}
		s.record(s.Question, turn.Text, 0)
		if s.advance() {
			return Result{State: s, Reply: CompletionMessage(s.TotalScore), Scored: scored}
		}
		return Result{State: s, Reply: questionText(s.Question), Scored: scored}
	default:
		var history []Utterance
		if turn.History != nil {
			history = lastN(turn.History(ctx), HistoryWindow)
		}
		reply := m.responder.Respond(ctx, SystemPrompt(s), history, turn.Text)
		return Result{State: s, Reply: reply}
	}
}

func (m *Machine) frequency(s State, turn Turn) Result {
	freq, ok := ParseFrequency(turn.Text)
	if !ok {
		return Result{State: s, Reply: frequencyErrorPreamble + FrequencyQuestion}
	}

	score := FrequencyScore(freq)
	scored := &ScoredAnswer{Question: s.Question, Text: questionText(s.Question), Answer: turn.Text, Score: score}
	s.record(s.Question, turn.Text, score)
	s.TotalScore += score
	if s.advance() {
		return Result{State: s, Reply: CompletionMessage(s.TotalScore), Scored: scored}
	}
	return Result{State: s, Reply: nextQuestionPreamble + questionText(s.Question), Scored: scored}
}

func (s State) clone() State {
	if s.Responses == nil {
		return s
	}
	responses := make(map[int]Answer, len(s.Responses))
	for k, v := range s.Responses {
		responses[k] = v
	}
	s.Responses = responses
	return s
}

func lastN(history []Utterance, n int) []Utterance {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
