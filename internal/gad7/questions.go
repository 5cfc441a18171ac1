// Package gad7 implements the GAD-7 anxiety screening protocol: the question
// bank, scoring, the lexical intent matcher and the conversation state machine.
package gad7

// QuestionCount is the number of scored items in the questionnaire.
const QuestionCount = 7

// Question is one fixed GAD-7 item.
type Question struct {
	Number        int    `json:"number"`
	Text          string `json:"text"`
	Clarification string `json:"clarification"`
	Examples      string `json:"examples"`
}

var questions = [QuestionCount]Question{
	{
		Number:        1,
		Text:          "Over the last 2 weeks, have you been bothered by feeling nervous, anxious, or on edge?",
		Clarification: "'Nervous or on edge' means feeling restless, 'jumpy,' or easily startled. Over the last 2 weeks, have you been bothered by that feeling?",
		Examples:      "Examples might include: feeling like you might spill your drink if someone surprises you, finding it hard to sit still, or feeling a 'pit' in your stomach.",
	},
	{
		Number:        2,
		Text:          "Over the last 2 weeks, have you been bothered by not being able to stop or control worrying?",
		Clarification: "This means having trouble stopping your worried thoughts even when you try. Have you experienced that?",
		Examples:      "For example: lying awake thinking about problems, or your mind racing with worries you can't turn off.",
	},
	{
		Number:        3,
		Text:          "Have you been bothered by worrying too much about different things?",
		Clarification: "This means worrying about multiple different topics or situations. Have you experienced that?",
		Examples:      "For example: worrying about work, family, health, money - many different things at once.",
	},
	{
		Number:        4,
		Text:          "Have you had trouble relaxing?",
		Clarification: "This means finding it difficult to feel calm or at ease. Have you experienced that?",
		Examples:      "For example: feeling tense even when trying to rest, or unable to enjoy leisure time.",
	},
	{
		Number:        5,
		Text:          "Have you been bothered by being so restless that it is hard to sit still?",
		Clarification: "This means feeling the need to move around or fidget. Have you experienced that?",
		Examples:      "For example: pacing, tapping your feet, or feeling uncomfortable staying in one place.",
	},
	{
		Number:        6,
		Text:          "Have you been bothered by becoming easily annoyed or irritable?",
		Clarification: "This means getting upset or frustrated more easily than usual. Have you experienced that?",
		Examples:      "For example: snapping at people, feeling impatient, or being bothered by small things.",
	},
	{
		Number:        7,
		Text:          "Have you been bothered by feeling afraid as if something awful might happen?",
		Clarification: "This means having a sense of dread or fear about the future. Have you experienced that?",
		Examples:      "For example: feeling like something bad is coming, or worrying that disaster is about to strike.",
	},
}

// QuestionAt returns the 1-indexed question n.
// The boolean is false when n is outside 1..7.
func QuestionAt(n int) (Question, bool) {
	if n < 1 || n > QuestionCount {
		return Question{}, false
	}
	return questions[n-1], true
}

// Questions returns a copy of the full question bank in order.
func Questions() []Question {
	out := make([]Question, QuestionCount)
	copy(out, questions[:])
	return out
}

func questionText(n int) string {
	q, ok := QuestionAt(n)
	if !ok {
		return ""
	}
	return q.Text
}
