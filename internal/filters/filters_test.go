package filters

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims", "  hello  ", "hello"},
		{"collapses long repeat", "aaaaaaaaaa", "aaa"},
		{"keeps short repeat", "aaaaaa", "aaaaaa"},
		{"seven is the threshold", "aaaaaaa", "aaa"},
		{"cyrillic repeat", "ааааааааа да", "ааа да"},
		{"squeezes whitespace", "a \t b\n\nc", "a b c"},
		{"mixed", "  ооооооочень  круто  ", "ооочень круто"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := Normalize(got); again != got {
				t.Errorf("Normalize not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestShouldIndex_ReasonOrder(t *testing.T) {
	f := New([]string{"спам"}, "mybot", 3)

	tests := []struct {
		name   string
		user   string
		text   string
		ok     bool
		reason string
	}{
		{"ok", "viewer", "нормальное сообщение", true, ReasonOK},
		{"too short", "viewer", "ок", false, ReasonTooShort},
		{"empty after trim", "viewer", "   ", false, ReasonTooShort},
		{"self message", "MyBot", "я существую", false, ReasonSelfMessage},
		{"banword", "viewer", "опять СПАМ пошел", false, ReasonBanword},
		{"http url", "viewer", "зацени https://example.com/x", false, ReasonHasURL},
		{"www url", "viewer", "глянь www.example.com", false, ReasonHasURL},
		{"noise", "viewer", ":))) !!! ???", false, ReasonNoise},
		{"digits are not noise", "viewer", "123", true, ReasonOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.ShouldIndex(tt.user, tt.text)
			if got.OK != tt.ok || got.Reason != tt.reason {
				t.Errorf("ShouldIndex(%q, %q) = %+v, want ok=%v reason=%q",
					tt.user, tt.text, got, tt.ok, tt.reason)
			}
		})
	}
}

func TestShouldIndex_MinLenCountsRunes(t *testing.T) {
	f := New(nil, "mybot", 3)
	// Two Cyrillic letters are four bytes but still too short.
	if got := f.ShouldIndex("viewer", "да"); got.Reason != ReasonTooShort {
		t.Errorf("reason = %q, want too_short", got.Reason)
	}
	if got := f.ShouldIndex("viewer", "дом"); !got.OK {
		t.Errorf("three runes rejected: %+v", got)
	}
}

func TestBanwords_LongestFirstAndCaseFolding(t *testing.T) {
	f := New([]string{"bad", "badword"}, "mybot", 3)
	if got := f.ShouldIndex("viewer", "это BADWORD тут"); got.Reason != ReasonBanword {
		t.Errorf("reason = %q, want banword", got.Reason)
	}

	// Words with regexp metacharacters must be treated literally.
	f = New([]string{"a.b"}, "mybot", 3)
	if got := f.ShouldIndex("viewer", "чистый axb текст"); got.Reason == ReasonBanword {
		t.Error("metacharacter matched as wildcard")
	}
	if got := f.ShouldIndex("viewer", "тут a.b есть"); got.Reason != ReasonBanword {
		t.Errorf("literal match missed: %q", got.Reason)
	}
}

func TestSetBanwords_Swap(t *testing.T) {
	f := New(nil, "mybot", 3)
	if got := f.ShouldIndex("viewer", "слово токсик тут"); !got.OK {
		t.Fatalf("unexpected rejection before swap: %+v", got)
	}
	f.SetBanwords([]string{"токсик"})
	if got := f.ShouldIndex("viewer", "слово токсик тут"); got.Reason != ReasonBanword {
		t.Errorf("reason after swap = %q, want banword", got.Reason)
	}
	f.SetBanwords(nil)
	if got := f.ShouldIndex("viewer", "слово токсик тут"); !got.OK {
		t.Errorf("empty list still rejects: %+v", got)
	}
}

func TestParseAICommand(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		query string
		ok    bool
	}{
		{"simple", "!ai how are you", "how are you", true},
		{"case preserved", "!AI КаК ДеЛа", "КаК ДеЛа", true},
		{"leading space", "   !ai вопрос  ", "вопрос", true},
		{"empty query", "!ai    ", "", false},
		{"bare command", "!ai", "", false},
		{"not a command", "ai привет", "", false},
		{"mid-line", "скажи !ai привет", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, ok := ParseAICommand(tt.in)
			if query != tt.query || ok != tt.ok {
				t.Errorf("ParseAICommand(%q) = (%q, %v), want (%q, %v)",
					tt.in, query, ok, tt.query, tt.ok)
			}
		})
	}
}

func TestHasMention(t *testing.T) {
	if !HasMention("привет @MyBot как дела", "mybot") {
		t.Error("case-insensitive mention missed")
	}
	if HasMention("привет mybot", "mybot") {
		t.Error("bare nick without @ counted as mention")
	}
	if HasMention("привет @mybot", "") {
		t.Error("empty nick matched")
	}
}

func TestParseBanwords(t *testing.T) {
	data := "# comment\nспам, скам\n\n токсик \n#another\nслово"
	got := ParseBanwords(data)
	want := []string{"спам", "скам", "токсик", "слово"}
	if len(got) != len(want) {
		t.Fatalf("ParseBanwords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCollapseRepeats_RuneRuns(t *testing.T) {
	in := strings.Repeat("🔥", 9) + " ok"
	if got := collapseRepeats(in); got != "🔥🔥🔥 ok" {
		t.Errorf("collapseRepeats = %q", got)
	}
}
