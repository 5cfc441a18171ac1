package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/gad7-screener/internal/gad7"
)

// ApologyMessage is returned in place of a generated reply whenever the
// model cannot be reached or returns nothing.
const ApologyMessage = "I apologize, but I'm having trouble processing that. Could you please try again?"

// Oracle adapts a Client to the screening protocol. It never returns an
// error: classification failures become UNCLEAR and generation failures
// become ApologyMessage.
type Oracle struct {
	client Client
	logger *slog.Logger
}

var (
	_ gad7.Classifier = (*Oracle)(nil)
	_ gad7.Responder  = (*Oracle)(nil)
)

// NewOracle wraps client. A nil logger uses slog.Default().
func NewOracle(client Client, logger *slog.Logger) *Oracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{client: client, logger: logger}
}

// Classify asks the model whether answer reports the symptom in question.
func (o *Oracle) Classify(ctx context.Context, question, answer string) gad7.Verdict {
	raw, err := o.client.Complete(ctx, gad7.ClassifierSystemPrompt, []Message{
		{Role: RoleUser, Content: gad7.ClassificationPrompt(question, answer)},
	})
	if err != nil {
		o.logger.Warn("classification failed, treating answer as unclear", "error", err)
		return gad7.VerdictUnclear
	}
	return gad7.ParseVerdict(raw)
}

// Respond generates a free-form reply from the recent history and message.
func (o *Oracle) Respond(ctx context.Context, systemPrompt string, history []gad7.Utterance, message string) string {
	messages := make([]Message, 0, len(history)+1)
	for _, u := range history {
		role := RoleUser
		if u.Role == RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: u.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: message})

	reply, err := o.client.Complete(ctx, systemPrompt, messages)
	if err != nil {
		o.logger.Warn("response generation failed", "error", err)
		return ApologyMessage
	}
	if strings.TrimSpace(reply) == "" {
		o.logger.Warn("response generation returned empty text")
		return ApologyMessage
	}
	return reply
}
