package common

import "strings"

const (
	// DefaultFeedbackSubject is the subject given to learner feedback threads
	// opened without one.
	DefaultFeedbackSubject = "(Feedback from a learner)"

	// SubjectBudget is the number of characters kept from a message when a
	// subject is derived from it.
	SubjectBudget = 50

	ellipsis = "..."
)

// AbbreviateSubject derives a thread subject from message text.
//
// Text within the budget is returned unchanged. Longer text is cut to the
// budget, the last (possibly partial) word is dropped and an ellipsis is
// appended. A single word longer than the budget is hard-cut instead. Empty
// text yields DefaultFeedbackSubject.
func AbbreviateSubject(text string) string {
	if strings.TrimSpace(text) == "" {
		return DefaultFeedbackSubject
	}

	runes := []rune(text)
	if len(runes) <= SubjectBudget {
		return text
	}

	cut := string(runes[:SubjectBudget])
	if i := strings.LastIndex(cut, " "); i >= 0 {
		cut = cut[:i]
	}
	return cut + ellipsis
}
