// Package speech turns coach answers into audio via the hosted
// text-to-speech service, both as a single synchronous call and as
// polled batch jobs for long texts.
package speech

import (
	"regexp"
	"strings"
)

const maxSpeechRunes = 9000

var (
	lineBreakRe  = regexp.MustCompile(`\s*[\r\n]+\s*`)
	disallowedRe = regexp.MustCompile(`[^가-힣a-zA-Z0-9\s.,!?~]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanForSpeech strips answer text down to what the voice should read:
// line breaks become sentence stops, markdown and symbols outside
// Korean, Latin, digits, and basic punctuation are dropped, runs of
// whitespace collapse, and the result is capped at 9000 characters.
// The allowlist also removes XML-sensitive characters, so the output
// embeds directly into SSML.
func CleanForSpeech(text string) string {
	cleaned := lineBreakRe.ReplaceAllString(text, ".")
	cleaned = disallowedRe.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if runes := []rune(cleaned); len(runes) > maxSpeechRunes {
		cleaned = string(runes[:maxSpeechRunes])
	}
	return cleaned
}
