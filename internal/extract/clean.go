package extract

import (
	"regexp"
	"strings"
)

var (
	strayLineStart = regexp.MustCompile(`(?m)^[lLiI1](?:[ \t]+|$)`)
	spacedAt       = regexp.MustCompile(`\s+@\s+`)
	phoneGroups    = regexp.MustCompile(`(\+?\d)[\s.-]*(\d{3})[\s.-]*(\d{3})[\s.-]*(\d{2})[\s.-]*(\d{2})`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// Clean normalizes OCR and extraction noise into a single line of text.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = strayLineStart.ReplaceAllString(text, "")
	text = spacedAt.ReplaceAllString(text, "@")
	text = phoneGroups.ReplaceAllString(text, "$1$2$3$4$5")
	text = blankRuns.ReplaceAllString(text, "\n\n")

	return strings.Join(strings.Fields(text), " ")
}
