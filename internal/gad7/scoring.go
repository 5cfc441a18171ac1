package gad7

import "strings"

// MaxScore is the highest possible total score.
const MaxScore = 21

// Severity is the band a total score falls into.
type Severity string

const (
	SeverityMinimal  Severity = "minimal"
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// SeverityOf maps a total score to its severity band.
// Scores outside 0..21 are clamped.
func SeverityOf(score int) Severity {
	switch {
	case score <= 4:
		return SeverityMinimal
	case score <= 9:
		return SeverityMild
	case score <= 14:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// Frequency is one of the four fixed answer options for how often a
// symptom occurred.
type Frequency int

const (
	NotAtAll Frequency = iota
	SeveralDays
	MoreThanHalfTheDays
	NearlyEveryDay
)

// Label returns the option text shown to the user.
func (f Frequency) Label() string {
	switch f {
	case NotAtAll:
		return "Not at all"
	case SeveralDays:
		return "Several days"
	case MoreThanHalfTheDays:
		return "More than half the days"
	case NearlyEveryDay:
		return "Nearly every day"
	default:
		return ""
	}
}

// FrequencyScore returns the item score for a frequency option.
func FrequencyScore(f Frequency) int {
	switch f {
	case SeveralDays:
		return 1
	case MoreThanHalfTheDays:
		return 2
	case NearlyEveryDay:
		return 3
	default:
		return 0
	}
}

type frequencyRule struct {
	digit   string
	phrases []string
	value   Frequency
}

// Checked in order; the first rule with any hit wins.
var frequencyRules = []frequencyRule{
	{digit: "1", phrases: []string{"not at all"}, value: NotAtAll},
	{digit: "2", phrases: []string{"several"}, value: SeveralDays},
	{digit: "3", phrases: []string{"more than half", "half the days"}, value: MoreThanHalfTheDays},
	{digit: "4", phrases: []string{"nearly every", "every day"}, value: NearlyEveryDay},
}

// ParseFrequency extracts a frequency option from free text. A bare digit
// anywhere in the text counts, so "2 or 3" resolves to SeveralDays.
func ParseFrequency(text string) (Frequency, bool) {
	lower := strings.ToLower(text)
	for _, rule := range frequencyRules {
		if strings.Contains(text, rule.digit) {
			return rule.value, true
		}
		for _, p := range rule.phrases {
			if strings.Contains(lower, p) {
				return rule.value, true
			}
		}
	}
	return NotAtAll, false
}
