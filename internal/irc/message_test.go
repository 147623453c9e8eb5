package irc

import (
	"reflect"
	"testing"
)

func TestParseLine_TaggedPrivmsg(t *testing.T) {
	line := "@badges=moderator/1;color=#00FF7F;display-name=Alice;id=abc-123;mod=1;subscriber=0;user-id=42;vip= :alice!alice@alice.tmi.twitch.tv PRIVMSG #Demo :hello world"

	msg := ParseLine(line)

	if msg.Command != "PRIVMSG" {
		t.Fatalf("Command = %q, want PRIVMSG", msg.Command)
	}
	if got, want := msg.Prefix, "alice!alice@alice.tmi.twitch.tv"; got != want {
		t.Errorf("Prefix = %q, want %q", got, want)
	}
	if got := msg.Nick(); got != "alice" {
		t.Errorf("Nick() = %q, want alice", got)
	}
	if !reflect.DeepEqual(msg.Params, []string{"#Demo"}) {
		t.Errorf("Params = %v, want [#Demo]", msg.Params)
	}
	if got := msg.Channel(); got != "demo" {
		t.Errorf("Channel() = %q, want demo", got)
	}
	if msg.Trailing != "hello world" {
		t.Errorf("Trailing = %q, want %q", msg.Trailing, "hello world")
	}
	if got := msg.Tags["id"]; got != "abc-123" {
		t.Errorf(`Tags["id"] = %q, want abc-123`, got)
	}
	if got := msg.Tags["display-name"]; got != "Alice" {
		t.Errorf(`Tags["display-name"] = %q, want Alice`, got)
	}
	if got, ok := msg.Tags["vip"]; !ok || got != "" {
		t.Errorf(`Tags["vip"] = %q (present=%v), want empty string present`, got, ok)
	}
	if msg.Raw != line {
		t.Errorf("Raw not preserved")
	}
}

func TestParseLine_TagWithoutEquals(t *testing.T) {
	msg := ParseLine("@flagged PING :tmi.twitch.tv")
	if v, ok := msg.Tags["flagged"]; !ok || v != "" {
		t.Fatalf(`Tags["flagged"] = %q (present=%v), want empty present`, v, ok)
	}
	if msg.Command != "PING" || msg.Trailing != "tmi.twitch.tv" {
		t.Fatalf("got %q/%q, want PING/tmi.twitch.tv", msg.Command, msg.Trailing)
	}
}

func TestParseLine_NoTrailing(t *testing.T) {
	msg := ParseLine(":bot!bot@bot.tmi.twitch.tv JOIN #demo")
	if msg.Command != "JOIN" {
		t.Fatalf("Command = %q, want JOIN", msg.Command)
	}
	if !reflect.DeepEqual(msg.Params, []string{"#demo"}) {
		t.Fatalf("Params = %v", msg.Params)
	}
	if msg.Trailing != "" {
		t.Fatalf("Trailing = %q, want empty", msg.Trailing)
	}
}

func TestParseLine_PingParamForm(t *testing.T) {
	msg := ParseLine("PING tmi.twitch.tv")
	if msg.Command != "PING" {
		t.Fatalf("Command = %q", msg.Command)
	}
	if !reflect.DeepEqual(msg.Params, []string{"tmi.twitch.tv"}) {
		t.Fatalf("Params = %v", msg.Params)
	}
}

func TestParseLine_Empty(t *testing.T) {
	msg := ParseLine("")
	if msg.Command != "" || len(msg.Params) != 0 || msg.Trailing != "" {
		t.Fatalf("empty line parsed to %+v", msg)
	}
}

// Emitted tagless lines must parse back to the same command/params/trailing.
func TestParseLine_RoundTrip(t *testing.T) {
	cases := []struct {
		line     string
		command  string
		params   []string
		trailing string
	}{
		{"PRIVMSG #demo :hello there", "PRIVMSG", []string{"#demo"}, "hello there"},
		{"JOIN #demo", "JOIN", []string{"#demo"}, ""},
		{"NICK mybot", "NICK", []string{"mybot"}, ""},
		{"CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership", "CAP", []string{"REQ"}, "twitch.tv/tags twitch.tv/commands twitch.tv/membership"},
		{"PONG :abc 123", "PONG", nil, "abc 123"},
	}
	for _, tc := range cases {
		msg := ParseLine(tc.line)
		if msg.Command != tc.command {
			t.Errorf("%q: Command = %q, want %q", tc.line, msg.Command, tc.command)
		}
		if len(msg.Params) != len(tc.params) || !reflect.DeepEqual(append([]string{}, msg.Params...), append([]string{}, tc.params...)) {
			t.Errorf("%q: Params = %v, want %v", tc.line, msg.Params, tc.params)
		}
		if msg.Trailing != tc.trailing {
			t.Errorf("%q: Trailing = %q, want %q", tc.line, msg.Trailing, tc.trailing)
		}
	}
}

func TestNormalizeChannel(t *testing.T) {
	cases := map[string]string{
		"#Demo":   "demo",
		"  #durl": "durl",
		"Plain":   "plain",
		"#":       "",
	}
	for in, want := range cases {
		if got := NormalizeChannel(in); got != want {
			t.Errorf("NormalizeChannel(%q) = %q, want %q", in, got, want)
		}
	}
}
