package gad7

import "fmt"

// ClassifierSystemPrompt is sent with every symptom-presence classification.
const ClassifierSystemPrompt = "You are a response classifier. Respond with only YES, NO, or UNCLEAR."

const baseSystemPrompt = `You are a compassionate mental health screening assistant conducting a GAD-7 (Generalized Anxiety Disorder) assessment.

CRITICAL RULES:
1. You are NOT a therapist or doctor. You are a screening tool.
2. NEVER diagnose or give medical advice
3. Follow the exact GAD-7 protocol provided
4. Be conversational but professional
5. If user is confused, provide clarification gently
6. If user goes off-topic, gently guide them back
7. Watch for crisis keywords and respond appropriately

YOUR TONE: Warm, supportive, non-judgmental, like a caring healthcare worker.`

// SystemPrompt returns the open-ended generation prompt for the current phase.
func SystemPrompt(s State) string {
	switch s.Phase {
	case PhaseAgeScreen, PhaseCrisisScreen, PhaseConsent:
		return baseSystemPrompt + "\n\nCurrent task: Obtain informed consent for the screening."
	case PhaseAwaitingFrequency:
		return baseSystemPrompt + "\n\nCurrent task: Get the frequency score (0-3) for the last question asked."
	case PhaseQuestion:
		q, ok := QuestionAt(s.Question)
		if !ok {
			return baseSystemPrompt
		}
		return baseSystemPrompt + fmt.Sprintf(
			"\n\nCurrent task: Ask GAD-7 question %d and determine if they experienced this symptom (yes/no/unsure).\nIf they seem confused, you may use this clarification: %s\n%s",
			q.Number, q.Clarification, q.Examples)
	default:
		return baseSystemPrompt
	}
}

// ClassificationPrompt asks the oracle whether answer reports the symptom in
// question.
func ClassificationPrompt(question, answer string) string {
	return fmt.Sprintf(`The user was asked: "%s"

They responded: "%s"

Respond with ONLY one word:
- "YES" if they indicated they experienced this symptom
- "NO" if they indicated they did not experience this symptom
- "UNCLEAR" if you cannot determine their answer

ONE WORD ONLY:`, question, answer)
}
