package agent

import "testing"

func TestStripHeartbeatToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare token", "HEARTBEAT_OK", ""},
		{"leading token", "HEARTBEAT_OK all quiet", "all quiet"},
		{"trailing token", "all quiet HEARTBEAT_OK", "all quiet"},
		{"both edges", "HEARTBEAT_OK all quiet HEARTBEAT_OK", "all quiet"},
		{"stacked tokens", "HEARTBEAT_OK HEARTBEAT_OK", ""},
		{"interior untouched", "the agent replies HEARTBEAT_OK when idle", "the agent replies HEARTBEAT_OK when idle"},
		{"no token", "disk usage at 91%", "disk usage at 91%"},
		{"whitespace only", "   \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripHeartbeatToken(tt.in)
			if got != tt.want {
				t.Errorf("StripHeartbeatToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := StripHeartbeatToken(got); again != got {
				t.Errorf("not idempotent: second pass %q -> %q", got, again)
			}
		})
	}
}

func TestHeartbeatAck(t *testing.T) {
	tests := []struct {
		name         string
		in           string
		maxAckChars  int
		want         string
		wantSuppress bool
	}{
		{"bare token suppressed", "HEARTBEAT_OK", 300, "", true},
		{"empty suppressed", "  ", 300, "", true},
		{"token plus chatter suppressed", "HEARTBEAT_OK nothing to report", 300, "", true},
		{"token plus long alert survives", "HEARTBEAT_OK " + longText(400), 300, longText(400), false},
		{"alert without token delivered", "disk almost full", 300, "disk almost full", false},
		{"interior token is content", "say HEARTBEAT_OK to ack", 300, "say HEARTBEAT_OK to ack", false},
		{"zero max uses default", "HEARTBEAT_OK ok", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, suppress := HeartbeatAck(tt.in, tt.maxAckChars)
			if got != tt.want || suppress != tt.wantSuppress {
				t.Errorf("HeartbeatAck(%q, %d) = (%q, %v), want (%q, %v)",
					tt.in, tt.maxAckChars, got, suppress, tt.want, tt.wantSuppress)
			}
		})
	}
}

func longText(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func TestReplyPayload_Renderable(t *testing.T) {
	tests := []struct {
		name string
		p    ReplyPayload
		want bool
	}{
		{"text", ReplyPayload{Text: "hi"}, true},
		{"whitespace only", ReplyPayload{Text: " \n "}, false},
		{"media url", ReplyPayload{MediaURL: "https://x/y.png"}, true},
		{"media list", ReplyPayload{MediaURLs: []string{"https://x/y.png"}}, true},
		{"empty", ReplyPayload{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Renderable(); got != tt.want {
				t.Errorf("Renderable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReplyPayload_DedupKey(t *testing.T) {
	a := ReplyPayload{Text: " same text "}
	b := ReplyPayload{Text: "same text"}
	if a.DedupKey() != b.DedupKey() {
		t.Error("whitespace variants should dedup to the same key")
	}

	c := ReplyPayload{Text: "same text", MediaURL: "https://x/y.png"}
	if a.DedupKey() == c.DedupKey() {
		t.Error("media changes identity")
	}

	d := ReplyPayload{Text: "same text", ReplyToID: "123"}
	if a.DedupKey() == d.DedupKey() {
		t.Error("reply target changes identity")
	}
}

func TestThreader(t *testing.T) {
	payloads := []ReplyPayload{{Text: "one"}, {Text: "two"}, {Text: "three"}}

	tests := []struct {
		name string
		mode ThreadingMode
		want []string
	}{
		{"off", ThreadOff, []string{"", "", ""}},
		{"first", ThreadFirst, []string{"42", "", ""}},
		{"all", ThreadAll, []string{"42", "42", "42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thr := newThreader(tt.mode, "42")
			for i, p := range payloads {
				got := thr.apply(p)
				if got.ReplyToID != tt.want[i] {
					t.Errorf("payload %d: ReplyToID = %q, want %q", i, got.ReplyToID, tt.want[i])
				}
			}
		})
	}
}

func TestParseThreadingMode(t *testing.T) {
	tests := []struct {
		in   string
		want ThreadingMode
	}{
		{"off", ThreadOff},
		{"first", ThreadFirst},
		{"all", ThreadAll},
		{"", ThreadOff},
		{"bogus", ThreadOff},
	}
	for _, tt := range tests {
		if got := ParseThreadingMode(tt.in); got != tt.want {
			t.Errorf("ParseThreadingMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
