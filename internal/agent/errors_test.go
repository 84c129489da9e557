package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestIsSessionCorruption(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"orphaned tool_use", errors.New(`API error: tool_use ids were found without tool_result blocks immediately after`), true},
		{"role alternation", errors.New("messages: roles must alternate between user and assistant"), true},
		{"plain failure", errors.New("connection reset by peer"), false},
		{"rate limit", errors.New("429 too many requests"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSessionCorruption(tt.err); got != tt.want {
				t.Errorf("IsSessionCorruption(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFormatUserError_Truncates(t *testing.T) {
	raw := strings.Repeat("x", 2000)
	got := FormatUserError(errors.New(raw))
	if len(got) > MaxUserErrorChars+len("...") {
		t.Errorf("formatted error length %d exceeds cap", len(got))
	}
	if !strings.HasPrefix(got, "Agent error: ") {
		t.Errorf("missing prefix: %q", got[:30])
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated error missing ellipsis")
	}
}

func TestFormatUserError_OverflowHint(t *testing.T) {
	got := FormatUserError(errors.New("prompt is too long: 210000 tokens > 200000 maximum"))
	if !strings.Contains(got, "context window") {
		t.Errorf("overflow error lost its hint: %q", got)
	}
	if strings.Contains(got, "210000") {
		t.Errorf("overflow hint leaked raw detail: %q", got)
	}
}

func TestFormatUserError_Nil(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestTruncateChars_RuneSafe(t *testing.T) {
	s := strings.Repeat("é", 100) // 2 bytes per rune
	got := truncateChars(s, 101)
	body := strings.TrimSuffix(got, "...")
	if strings.ContainsRune(body, '�') {
		t.Error("truncation split a rune")
	}
	if len(body) != 100 {
		t.Errorf("body length = %d, want 100", len(body))
	}
}
