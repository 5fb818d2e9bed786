// ABOUTME: Fixed keyword tables feeding the routing heuristic.
// ABOUTME: Expressed as data so the policy is testable and swappable without touching dispatch.

package gateway

import "strings"

// teamKeywords mark a request addressed to the whole team rather than a
// single specialist. Team detection selects framing only; it never changes
// the routing destination.
var teamKeywords = []string{
	"team",
	"everyone",
	"everybody",
	"review this",
	"all hands",
}

// complexityKeywords flag requests that deserve more deliberate framing.
var complexityKeywords = []string{
	"architecture",
	"refactor",
	"redesign",
	"migrate",
	"complex",
}

// urgencyKeywords flag requests that deserve terse, immediate framing.
var urgencyKeywords = []string{
	"urgent",
	"asap",
	"immediately",
	"critical",
	"emergency",
}

// containsAny reports whether text contains any keyword, case-insensitive.
func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DetectsTeamRequest reports whether text addresses the whole team.
func DetectsTeamRequest(text string) bool {
	return containsAny(text, teamKeywords)
}

// AssessComplexity reports whether text reads as a complex request.
func AssessComplexity(text string) bool {
	return containsAny(text, complexityKeywords)
}

// AssessUrgency reports whether text reads as an urgent request.
func AssessUrgency(text string) bool {
	return containsAny(text, urgencyKeywords)
}
