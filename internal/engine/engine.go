// Package engine produces the bot's outgoing chat lines. Two generators
// implement the same interface: a deterministic rule-based one that is
// always available, and an LLM-backed one that talks to an Ollama
// endpoint and falls back to the rule-based generator on any failure.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/memory"
	"github.com/basket/go-banter/internal/otel"
	"github.com/basket/go-banter/internal/summarize"
)

// Purposes a generation request can carry. They select the prompt shape
// and the rule-based template.
const (
	PurposeAnswerAI = "answer_ai"
	PurposeMention  = "mention"
	PurposeInitiate = "initiate"
)

// Request describes one reply to produce.
type Request struct {
	Purpose  string
	Channel  string
	BotNick  string
	User     string
	UserText string
	Summary  *summarize.Summary
	Recent   []memory.ChatItem
	MaxLen   int
}

// Generator turns a Request into a single chat message.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and wires a generator.
type Config struct {
	Ollama         config.Ollama
	MaxContextMsgs int
	Logger         *slog.Logger
	Tracer         trace.Tracer  // nil disables spans
	Metrics        *otel.Metrics // nil disables instruments
}

// New builds the configured generator. An empty Ollama URL selects the
// rule-based generator.
func New(cfg Config) Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Ollama.URL) == "" {
		logger.Warn("no LLM endpoint configured; using rule-based replies")
		return RuleBased{}
	}
	logger.Info("LLM generator enabled",
		"url", cfg.Ollama.URL,
		"model", cfg.Ollama.Model,
		"force_ru", cfg.Ollama.ForceRU)
	return newOllama(cfg, logger)
}

// RuleBased produces short template replies without an LLM.
type RuleBased struct{}

// Generate picks a template by purpose. Never fails.
func (RuleBased) Generate(_ context.Context, req Request) (string, error) {
	topic := "чат"
	if req.Summary != nil {
		topic = req.Summary.Topic
	}

	if req.Purpose == PurposeAnswerAI && req.UserText != "" {
		return fmt.Sprintf(
			"Понял вопрос про %s. Я пока без RAG, но уточню: тебе нужен быстрый вывод или разбор по шагам?",
			topic), nil
	}

	if req.Purpose == PurposeMention {
		if req.User != "" {
			return fmt.Sprintf("@%s я тут 👀 Про %s — что именно обсудить?", req.User, topic), nil
		}
		return fmt.Sprintf("Я тут 👀 Про %s — что именно обсудить?", topic), nil
	}

	if req.Summary != nil && len(req.Summary.Questions) > 0 {
		return fmt.Sprintf("Кстати, по теме (%s): %s", topic, truncateRunes(req.Summary.Questions[0], 120)), nil
	}
	return fmt.Sprintf("Слушаю чат про %s. Если хотите — задайте вопрос через !ai …", topic), nil
}

// formatRecent renders the last maxN buffer items as "user: text" lines.
func formatRecent(items []memory.ChatItem, maxN int) string {
	if len(items) == 0 {
		return ""
	}
	if maxN > 0 && len(items) > maxN {
		items = items[len(items)-maxN:]
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, it.User+": "+it.Text)
	}
	return strings.Join(lines, "\n")
}

// postProcess collapses whitespace and truncates to maxLen runes at a
// word boundary, appending an ellipsis when something was cut.
func postProcess(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	cut := string([]rune(s)[:maxLen])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "…"
}
