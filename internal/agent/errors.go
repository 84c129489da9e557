package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/yiliangbetter/openclaw/internal/fallback"
)

// MaxUserErrorChars caps user-facing failure payloads. Raw provider errors
// can embed whole request bodies; channels have message limits.
const MaxUserErrorChars = 600

// Session transcripts can become unreplayable when a run is killed between
// a tool call and its result. Providers reject the replay with one of these
// signatures.
var corruptionSignatures = []string{
	"tool_use ids were found without tool_result blocks",
	"tool_use` ids were found without `tool_result` blocks",
	"unexpected `tool_use_id`",
	"messages: roles must alternate",
	"invalid request: messages",
}

// IsSessionCorruption reports whether err indicates an unreplayable session
// transcript, which recovery handles by resetting the session.
func IsSessionCorruption(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range corruptionSignatures {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

// FormatUserError turns a run failure into a user-facing message. Context
// overflow gets an actionable hint; everything else is truncated raw detail.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if fallback.Classify(err) == fallback.KindContextOverflow {
		return "The conversation is too long for the model's context window. " +
			"Start a new session or compact this one, then try again."
	}
	return truncateChars("Agent error: "+err.Error(), MaxUserErrorChars)
}

// CorruptionApology is delivered after a session reset.
const CorruptionApology = "The session history was corrupted and had to be reset. " +
	"Sorry about that. Please resend your last message."

// truncateChars cuts s to max bytes without splitting a rune.
func truncateChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
