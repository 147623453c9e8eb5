// Package summarize derives a per-channel topic sketch from buffered chat
// lines: ranked keywords, open questions, and a fingerprint string stable
// enough to detect topic shifts between ticks.
package summarize

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basket/go-banter/internal/memory"
)

// wordRE matches runs of 3+ word characters. The Cyrillic ranges А-Я/а-я
// do not include ё.
var wordRE = regexp.MustCompile(`[A-Za-zА-Яа-я0-9_]{3,}`)

// stopWords are common connectives in English and Russian that carry no
// topical signal.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "that": {}, "this": {}, "with": {}, "have": {},
	"you": {}, "your": {}, "but": {}, "not": {}, "are": {}, "for": {},
	"was": {}, "что": {}, "это": {}, "как": {}, "так": {}, "там": {},
	"тут": {}, "его": {}, "ее": {}, "они": {}, "она": {}, "оно": {},
	"да": {}, "нет": {}, "или": {}, "уже": {}, "ещё": {}, "ещe": {},
	"кто": {}, "где": {}, "когда": {}, "почему": {},
}

const (
	topKeywords  = 8
	topQuestions = 3
)

// Summary is one tick's view of a channel's conversation.
type Summary struct {
	Channel string

	Topic     string
	Keywords  []string
	Questions []string

	// TopicFingerprint is a stable string for shift detection: the same
	// dominant keywords yield the same fingerprint regardless of counts.
	TopicFingerprint string

	// Activity signals relative to the summarization instant.
	MsgsLast10s       int
	MsgsLast60s       int
	LastMessageAgeSec int64

	Bullets []string
}

// Summarize reduces a snapshot of chat lines to a Summary. Returns nil
// when the snapshot is empty.
func Summarize(channel string, items []memory.ChatItem, now time.Time) *Summary {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	keywords := ExtractKeywords(texts, topKeywords)
	questions := ExtractQuestions(items, topQuestions)

	topic := "чат"
	if len(keywords) > 0 {
		topic = strings.Join(keywords[:min(3, len(keywords))], ", ")
	}
	fingerprint := strings.Join(keywords[:min(5, len(keywords))], " ")

	nowUnix := now.Unix()
	var msgs10, msgs60 int
	for _, it := range items {
		if it.TS >= nowUnix-10 {
			msgs10++
		}
		if it.TS >= nowUnix-60 {
			msgs60++
		}
	}
	age := nowUnix - items[len(items)-1].TS
	if age < 0 {
		age = 0
	}

	var bullets []string
	if len(keywords) > 0 {
		bullets = append(bullets, "Топ ключи: "+strings.Join(keywords[:min(6, len(keywords))], ", "))
	}
	if len(questions) > 0 {
		bullets = append(bullets, "Вопросы: "+truncateRunes(questions[0], 120))
	}
	bullets = append(bullets, fmt.Sprintf("Сообщений за окно: %d", len(items)))

	return &Summary{
		Channel:           channel,
		Topic:             topic,
		Keywords:          keywords,
		Questions:         questions,
		TopicFingerprint:  fingerprint,
		MsgsLast10s:       msgs10,
		MsgsLast60s:       msgs60,
		LastMessageAgeSec: age,
		Bullets:           bullets,
	}
}

// ExtractKeywords ranks non-stop-word tokens across texts by occurrence
// count, breaking ties by first appearance.
func ExtractKeywords(texts []string, topK int) []string {
	type entry struct {
		count int
		first int
	}
	counts := make(map[string]*entry)
	order := 0
	for _, t := range texts {
		for _, w := range wordRE.FindAllString(strings.ToLower(t), -1) {
			if _, stop := stopWords[w]; stop {
				continue
			}
			e, ok := counts[w]
			if !ok {
				e = &entry{first: order}
				counts[w] = e
				order++
			}
			e.count++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		a, b := counts[words[i]], counts[words[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.first < b.first
	})
	if len(words) > topK {
		words = words[:topK]
	}
	return words
}

// ExtractQuestions collects lines containing a question mark, preserving
// original text, deduplicating case-insensitively on first occurrence,
// capped at topK.
func ExtractQuestions(items []memory.ChatItem, topK int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, it := range items {
		if !strings.Contains(it.Text, "?") {
			continue
		}
		q := strings.TrimSpace(it.Text)
		if utf8.RuneCountInString(q) <= 2 {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if len(out) >= topK {
			break
		}
	}
	return out
}

// truncateRunes caps s at limit runes, marking the cut with an ellipsis.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
