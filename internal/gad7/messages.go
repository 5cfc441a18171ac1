package gad7

import (
	"fmt"
	"strings"
)

// Fixed conversation texts.
const (
	AgeQuestion = "Before we begin, I need to confirm: Are you 18 or older?\n\n(Please answer Yes or No)"

	CrisisScreenQuestion = "Thank you. One more important question: Are you currently in a crisis or feeling actively suicidal?\n\n(Please answer Yes or No)"

	ConsentMessage = `Thank you for confirming.

My purpose is to have a conversation with you. I am not a doctor, and this is not a diagnosis. This is only a screening tool. Your data will be used anonymously for research purposes.

Do you consent to participate? (Please answer Yes or No)`

	FrequencyQuestion = `Okay, how often have you been bothered by that over the last 2 weeks?

1. Not at all
2. Several days
3. More than half the days
4. Nearly every day

Please choose 1, 2, 3, or 4.`

	CrisisMessage = `I have detected keywords that indicate you may be in serious distress.

**I am an AI and not a crisis counselor.** Please contact a crisis hotline immediately:

- 1926 (National Mental Health Helpline, 24/7)
- Ms Supeshala Rathnayaka (070 2211311)

They can help you right now. Your safety is the most important thing.`

	AlreadyCompletedMessage = "This screening has already been completed. Would you like to start a new screening session?"

	UnderageMessage = "I'm sorry, but you must be 18 or older to participate in this screening. Thank you for your interest."

	AgeReprompt = "I need a clear Yes or No answer. Are you 18 or older?"

	CrisisReprompt = "I need a clear Yes or No answer. Are you currently in a crisis or feeling actively suicidal?"

	DeclineMessage = "I understand. Thank you for your time. You can close this conversation whenever you're ready."

	consentAck = "Thank you for consenting. Let's begin."

	frequencyErrorPreamble = "I didn't quite catch that. Please choose a number from 1 to 4:\n\n"

	nextQuestionPreamble = "Thank you. Next question:\n\n"
)

var severityAdvice = map[Severity]string{
	SeverityMinimal: "Your responses suggest minimal anxiety symptoms. This is a good sign, but remember this is just a screening tool, not a diagnosis.",
	SeverityMild:    "Your responses suggest mild anxiety symptoms. While this screening suggests some anxiety, only a healthcare professional can provide a proper assessment.",
	SeverityModerate: `Your responses suggest moderate anxiety symptoms.

**IMPORTANT:** Talking to a qualified professional (like a doctor or counselor) about this could be very important. This screening suggests you may benefit from professional support.`,
	SeveritySevere: `Your responses suggest severe anxiety symptoms.

**IMPORTANT:** Your score is in the 'severe' range. I am not qualified to diagnose, but it is very important that you speak to a healthcare professional soon.

Please consider seeing a doctor or counselor. Here are some resources:
- 1926 (National Mental Health Helpline, 24/7)
- Ms Supeshala Rathnayaka (070 2211311)`,
}

// CompletionMessage renders the final score summary for a total score.
func CompletionMessage(totalScore int) string {
	severity := SeverityOf(totalScore)
	return fmt.Sprintf("Thank you for completing the GAD-7 screening.\n\nYour total score is: %d out of %d\nSeverity level: %s\n\n%s",
		totalScore, MaxScore, strings.ToUpper(string(severity)), severityAdvice[severity])
}
