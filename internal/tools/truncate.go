package tools

import "fmt"

// Tool results enter the conversation history, so oversized output eats the
// context window. Keep the head (usually the interesting part) and a tail
// slice (exit status, final errors) with an elision marker between.
const (
	maxResultChars = 30000
	headShare      = 3 // head keeps 3/5 of the budget
	tailShare      = 1 // tail keeps 1/5, the rest pays for the marker
)

func truncateOutput(s string) string {
	if len(s) <= maxResultChars {
		return s
	}
	head := maxResultChars * headShare / 5
	tail := maxResultChars * tailShare / 5
	omitted := len(s) - head - tail
	return s[:head] +
		fmt.Sprintf("\n\n[... %d characters omitted ...]\n\n", omitted) +
		s[len(s)-tail:]
}

// truncateLines caps a line-oriented listing, reporting how much was cut.
func truncateLines(lines []string, max int) []string {
	if len(lines) <= max {
		return lines
	}
	out := make([]string, 0, max+1)
	out = append(out, lines[:max]...)
	out = append(out, fmt.Sprintf("[... %d more lines omitted ...]", len(lines)-max))
	return out
}
