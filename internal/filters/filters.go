// Package filters gates which chat lines are worth indexing and parses
// the explicit bot triggers out of message text.
package filters

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

var (
	urlRE   = regexp.MustCompile(`(?i)(https?://|www\.)\S+`)
	spaceRE = regexp.MustCompile(`\s+`)
)

// Reasons returned by ShouldIndex, first rejecting gate wins.
const (
	ReasonTooShort    = "too_short"
	ReasonSelfMessage = "self_message"
	ReasonBanword     = "banword"
	ReasonHasURL      = "has_url"
	ReasonNoise       = "noise"
	ReasonOK          = "ok"
)

// Result explains a gating decision.
type Result struct {
	OK     bool
	Reason string
}

// Filters holds the indexing gates for one bot instance. The banword list
// can be swapped at runtime; everything else is immutable after New.
type Filters struct {
	botNick string
	minLen  int

	mu    sync.RWMutex
	banRE *regexp.Regexp
}

// New builds a Filters for the given bot nick, minimum indexable rune
// count, and initial banword list.
func New(banwords []string, botNick string, minLen int) *Filters {
	f := &Filters{botNick: strings.ToLower(botNick), minLen: minLen}
	f.SetBanwords(banwords)
	return f
}

// SetBanwords replaces the banword list. Matching is case-insensitive
// substring; words are tried longest first so a longer word wins over a
// prefix of itself. An empty list disables the gate.
func (f *Filters) SetBanwords(words []string) {
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			cleaned = append(cleaned, w)
		}
	}

	var re *regexp.Regexp
	if len(cleaned) > 0 {
		sort.SliceStable(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })
		parts := make([]string, len(cleaned))
		for i, w := range cleaned {
			parts[i] = regexp.QuoteMeta(w)
		}
		re = regexp.MustCompile("(?i)" + strings.Join(parts, "|"))
	}

	f.mu.Lock()
	f.banRE = re
	f.mu.Unlock()
}

// ShouldIndex decides whether a chat line belongs in the channel buffer.
func (f *Filters) ShouldIndex(user, text string) Result {
	t := Normalize(text)

	if t == "" || utf8.RuneCountInString(t) < f.minLen {
		return Result{Reason: ReasonTooShort}
	}
	if user != "" && strings.ToLower(user) == f.botNick {
		return Result{Reason: ReasonSelfMessage}
	}
	if f.containsBanword(t) {
		return Result{Reason: ReasonBanword}
	}
	if urlRE.MatchString(t) {
		return Result{Reason: ReasonHasURL}
	}
	if isNoise(t) {
		return Result{Reason: ReasonNoise}
	}
	return Result{OK: true, Reason: ReasonOK}
}

func (f *Filters) containsBanword(text string) bool {
	f.mu.RLock()
	re := f.banRE
	f.mu.RUnlock()
	return re != nil && re.MatchString(text)
}

// Normalize trims, collapses runs of 7+ identical runes to exactly three,
// and squeezes whitespace runs to single spaces.
func Normalize(text string) string {
	t := strings.TrimSpace(text)
	t = collapseRepeats(t)
	return spaceRE.ReplaceAllString(t, " ")
}

// collapseRepeats rewrites runs of 7 or more identical runes to three.
// A regexp cannot express this without backreferences, which RE2 lacks.
func collapseRepeats(s string) string {
	runes := []rune(s)
	out := runes[:0:0]
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if j-i >= 7 {
			out = append(out, runes[i], runes[i], runes[i])
		} else {
			out = append(out, runes[i:j]...)
		}
		i = j
	}
	return string(out)
}

// isNoise reports whether the string contains no letters or numbers in
// any script: pure punctuation, symbols, and emoji.
func isNoise(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// ParseAICommand extracts the query from a "!ai <query>" line, preserving
// the query's original case. ok is false when the line is not an !ai
// command or the query is empty.
func ParseAICommand(text string) (query string, ok bool) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToLower(t), "!ai ") {
		return "", false
	}
	q := strings.TrimSpace(t[4:])
	return q, q != ""
}

// HasMention reports whether text mentions nick with an @ prefix,
// case-insensitively.
func HasMention(text, nick string) bool {
	if nick == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(nick))
}
