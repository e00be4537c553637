package extract

import (
	"regexp"
	"strings"
)

// boilerplatePrefixes are lead-ins models put in front of a JSON answer.
var boilerplatePrefixes = []string{
	"Here's the JSON:",
	"Here is the JSON:",
	"JSON output:",
	"Output:",
	"Result:",
}

var (
	lineCommentRe   = regexp.MustCompile(`(?m)//.*$`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Clean rewrites common near-JSON mistakes: a boilerplate lead-in, then
// trailing commas, then line comments. The result is not guaranteed to be
// valid; a comma followed by a comment survives the comma pass.
func Clean(text string) string {
	cleaned := strings.TrimSpace(text)
	for _, p := range boilerplatePrefixes {
		if len(cleaned) >= len(p) && strings.EqualFold(cleaned[:len(p)], p) {
			cleaned = strings.TrimSpace(cleaned[len(p):])
		}
	}
	cleaned = trailingCommaRe.ReplaceAllString(cleaned, "$1")
	cleaned = lineCommentRe.ReplaceAllString(cleaned, "")
	return cleaned
}
