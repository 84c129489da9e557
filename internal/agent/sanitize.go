// Package agent — reply text sanitization.
//
// Pipeline applied to every payload before the renderable check:
//
//	1. stripThinkingTags()    → drop leaked <think>/<thinking> blocks
//	2. stripFinalTags()       → unwrap <final> markers, keep the content
//	3. collapseDuplicateParagraphs()
//	4. stripLeadingBlankLines()
package agent

import (
	"regexp"
	"strings"
)

// SanitizeReplyText cleans model output for user-facing delivery.
func SanitizeReplyText(text string) string {
	if text == "" {
		return ""
	}
	text = stripThinkingTags(text)
	text = stripFinalTags(text)
	text = collapseDuplicateParagraphs(text)
	text = stripLeadingBlankLines(text)
	return strings.TrimSpace(text)
}

// Reasoning tags some models leak into text content.
// Go regexp has no backreferences, so one pattern per tag.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return text
	}
	for _, pat := range thinkingTagPatterns {
		text = pat.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// finalTagPattern unwraps <final> markers but keeps the content inside.
var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

func stripFinalTags(text string) string {
	if !strings.Contains(strings.ToLower(text), "final") {
		return text
	}
	return finalTagPattern.ReplaceAllString(text, "")
}

// collapseDuplicateParagraphs removes consecutive repeated paragraph blocks,
// a common failure mode when a model re-emits its own streamed output.
func collapseDuplicateParagraphs(text string) string {
	blocks := strings.Split(text, "\n\n")
	if len(blocks) <= 1 {
		return text
	}
	var result []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(result) > 0 && trimmed == strings.TrimSpace(result[len(result)-1]) {
			continue
		}
		result = append(result, block)
	}
	return strings.Join(result, "\n\n")
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func stripLeadingBlankLines(text string) string {
	return leadingBlankLinesPattern.ReplaceAllString(text, "")
}

// IsSilentReply checks if the text is (or is wrapped around) the NO_REPLY
// token the agent uses to decline answering.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	const token = "NO_REPLY"
	if trimmed == token {
		return true
	}
	if strings.HasPrefix(trimmed, token) {
		rest := trimmed[len(token):]
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if strings.HasSuffix(trimmed, token) {
		before := trimmed[:len(trimmed)-len(token)]
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
