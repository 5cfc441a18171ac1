package gad7

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Phase is the discrete stage of a screening conversation.
type Phase string

const (
	PhaseAgeScreen         Phase = "age_screen"
	PhaseCrisisScreen      Phase = "crisis_screen"
	PhaseConsent           Phase = "consent"
	PhaseQuestion          Phase = "question"
	PhaseAwaitingFrequency Phase = "awaiting_frequency"
	PhaseCompleted         Phase = "completed"
)

// order gives each phase its position in the forward-only progression.
// Question phases are further ordered by question number.
func (p Phase) order() int {
	switch p {
	case PhaseAgeScreen:
		return 0
	case PhaseCrisisScreen:
		return 1
	case PhaseConsent:
		return 2
	case PhaseQuestion, PhaseAwaitingFrequency:
		return 3
	case PhaseCompleted:
		return 4
	default:
		return -1
	}
}

// Outcome records why a screening reached PhaseCompleted.
type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeUnderage Outcome = "underage"
	OutcomeCrisis   Outcome = "crisis"
	OutcomeDeclined Outcome = "declined"
)

// Answer is the audit record of a scored question.
type Answer struct {
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// State is the persisted progress of one screening conversation.
type State struct {
	Phase Phase `json:"phase"`
	// Question is the active item (1..7) in PhaseQuestion and
	// PhaseAwaitingFrequency, and 0 in every other phase.
	Question   int            `json:"question"`
	Responses  map[int]Answer `json:"responses,omitempty"`
	TotalScore int            `json:"total_score"`
	// ConfusionCount is reserved; nothing increments or reads it.
	ConfusionCount int     `json:"confusion_count"`
	Outcome        Outcome `json:"outcome,omitempty"`
}

// ErrInvalidState is returned when a stored state cannot be decoded or
// violates the phase invariants.
var ErrInvalidState = errors.New("invalid protocol state")

// NewState returns the state of a conversation that has not started.
func NewState() State {
	return State{Phase: PhaseAgeScreen}
}

// Reset discards all progress.
func (s *State) Reset() {
	*s = NewState()
}

// Completed reports whether the conversation has ended for any reason.
func (s State) Completed() bool {
	return s.Phase == PhaseCompleted
}

// Finished reports whether all seven questions were answered.
func (s State) Finished() bool {
	return s.Phase == PhaseCompleted && s.Outcome == OutcomeFinished
}

// MarkCompleted ends the conversation without recording an outcome. It is
// used when the session store says a conversation is over but the stored
// state disagrees.
func (s *State) MarkCompleted() {
	if s.Phase == PhaseCompleted {
		return
	}
	s.Phase = PhaseCompleted
	s.Question = 0
}

// Before reports whether s is strictly earlier in the protocol than other.
func (s State) Before(other State) bool {
	if s.Phase.order() != other.Phase.order() {
		return s.Phase.order() < other.Phase.order()
	}
	if s.Question != other.Question {
		return s.Question < other.Question
	}
	return s.Phase == PhaseQuestion && other.Phase == PhaseAwaitingFrequency
}

// Validate checks the phase invariants.
func (s State) Validate() error {
	switch s.Phase {
	case PhaseQuestion, PhaseAwaitingFrequency:
		if s.Question < 1 || s.Question > QuestionCount {
			return fmt.Errorf("%w: phase %s with question %d", ErrInvalidState, s.Phase, s.Question)
		}
	case PhaseAgeScreen, PhaseCrisisScreen, PhaseConsent, PhaseCompleted:
		if s.Question != 0 {
			return fmt.Errorf("%w: phase %s with question %d", ErrInvalidState, s.Phase, s.Question)
		}
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidState, s.Phase)
	}
	if s.TotalScore < 0 || s.TotalScore > MaxScore {
		return fmt.Errorf("%w: total score %d out of range", ErrInvalidState, s.TotalScore)
	}
	if s.Outcome != "" && s.Phase != PhaseCompleted {
		return fmt.Errorf("%w: outcome %q on active phase %s", ErrInvalidState, s.Outcome, s.Phase)
	}
	return nil
}

func (s *State) record(question int, text string, score int) {
	if s.Responses == nil {
		s.Responses = make(map[int]Answer)
	}
	s.Responses[question] = Answer{Text: text, Score: score}
}

// advance moves past the current question. It reports whether the
// questionnaire is now finished.
func (s *State) advance() bool {
	next := s.Question + 1
	if next > QuestionCount {
		s.complete(OutcomeFinished)
		return true
	}
	s.Phase = PhaseQuestion
	s.Question = next
	return false
}

func (s *State) complete(outcome Outcome) {
	s.Phase = PhaseCompleted
	s.Question = 0
	s.Outcome = outcome
}

// EncodeState serializes a state for storage.
func EncodeState(s State) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol state: %w", err)
	}
	return data, nil
}

// legacyState is the flat layout written by earlier versions of the service.
type legacyState struct {
	CurrentQuestion   int  `json:"current_question"`
	ConsentGiven      bool `json:"consent_given"`
	ScreeningPassed   bool `json:"screening_passed"`
	ScreeningStep     int  `json:"screening_step"`
	AwaitingFrequency bool `json:"awaiting_frequency"`
	ConfusionCount    int  `json:"confusion_count"`
	TotalScore        int  `json:"total_score"`
	Completed         bool `json:"completed"`
}

func (l legacyState) toState() (State, error) {
	s := State{TotalScore: l.TotalScore, ConfusionCount: l.ConfusionCount}
	switch {
	case l.Completed || l.CurrentQuestion > QuestionCount:
		s.Phase = PhaseCompleted
		if l.CurrentQuestion > QuestionCount {
			s.Outcome = OutcomeFinished
		}
	case l.CurrentQuestion >= 1:
		s.Phase = PhaseQuestion
		if l.AwaitingFrequency {
			s.Phase = PhaseAwaitingFrequency
		}
		s.Question = l.CurrentQuestion
	case l.CurrentQuestion < 0:
		return State{}, fmt.Errorf("%w: negative current_question %d", ErrInvalidState, l.CurrentQuestion)
	case l.ScreeningPassed && l.ScreeningStep != 2:
		return State{}, fmt.Errorf("%w: screening passed at step %d", ErrInvalidState, l.ScreeningStep)
	case l.ScreeningPassed:
		s.Phase = PhaseConsent
	case l.ScreeningStep == 1:
		s.Phase = PhaseCrisisScreen
	case l.ScreeningStep == 0:
		s.Phase = PhaseAgeScreen
	default:
		return State{}, fmt.Errorf("%w: screening step %d", ErrInvalidState, l.ScreeningStep)
	}
	return s, nil
}

// DecodeState parses a stored state. Empty input yields NewState. Both the
// current layout and the legacy flat layout are accepted.
func DecodeState(data []byte) (State, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return NewState(), nil
	}

	var probe struct {
		Phase *Phase `json:"phase"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	var s State
	if probe.Phase != nil {
		if err := json.Unmarshal(data, &s); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	} else {
		var legacy legacyState
		if err := json.Unmarshal(data, &legacy); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		var err error
		if s, err = legacy.toState(); err != nil {
			return State{}, err
		}
	}

	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}
