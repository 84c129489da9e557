// Package fallback rotates through (provider, model) candidates when model
// calls fail, with a persisted per-auth-profile cooldown ledger.
package fallback

import "strings"

// Kind classifies a model-call failure for fallback decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindRateLimit
	KindContextOverflow
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindContextOverflow:
		return "context_overflow"
	default:
		return "unknown"
	}
}

var authPatterns = []string{
	"401",
	"403",
	"unauthorized",
	"forbidden",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"credential",
	"token expired",
	"permission denied",
}

var rateLimitPatterns = []string{
	"429",
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota",
	"overloaded",
	"capacity",
	"exhausted",
}

var overflowPatterns = []string{
	"context length",
	"context_length_exceeded",
	"context window",
	"maximum context",
	"prompt is too long",
	"input is too long",
	"input length and `max_tokens` exceed",
	"request too large",
}

// Classify maps an error to a failure kind by message inspection. Provider
// SDKs do not share typed errors, so the raw message is the contract.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())

	for _, p := range overflowPatterns {
		if strings.Contains(msg, p) {
			return KindContextOverflow
		}
	}
	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return KindAuth
		}
	}
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return KindRateLimit
		}
	}
	return KindUnknown
}

// Retryable reports whether the next candidate should be tried after this
// failure. Context overflow follows the conversation to every model, and
// unknown failures surface to the user rather than burning candidates.
func Retryable(k Kind) bool {
	return k == KindAuth || k == KindRateLimit
}
