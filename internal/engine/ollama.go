package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/otel"
)

const defaultTimeout = 45 * time.Second

const systemPrompt = "Ты участник чата Twitch-стрима. " +
	"Пиши ОДНО короткое сообщение (1–2 предложения), без простыней, без ссылок, без токсичности. " +
	"Не спамь эмодзи. Не повторяйся. " +
	"Если не хватает контекста — задай один уточняющий вопрос. " +
	"Не показывай рассуждения, в ответе только финальный текст."

const (
	finalAnswerDirective  = "Верни только финальный ответ, без рассуждений."
	russianOnlyDirective  = "Отвечай только на русском языке."
	retriedPredictFloor   = 192
	retriedTemperatureCap = 0.2
)

// Ollama calls a local or remote Ollama chat endpoint. Empty, truncated
// and off-language responses each get one corrective retry; anything
// that still fails lands on the rule-based generator.
type Ollama struct {
	cfg            config.Ollama
	url            string
	maxContextMsgs int
	client         *http.Client
	fallback       Generator
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *otel.Metrics
}

func newOllama(cfg Config, logger *slog.Logger) *Ollama {
	timeout := time.Duration(cfg.Ollama.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Ollama{
		cfg:            cfg.Ollama,
		url:            strings.TrimRight(cfg.Ollama.URL, "/"),
		maxContextMsgs: cfg.MaxContextMsgs,
		client:         &http.Client{Timeout: timeout},
		fallback:       RuleBased{},
		logger:         logger,
		tracer:         cfg.Tracer,
		metrics:        cfg.Metrics,
	}
}

// Generate runs the chat call with retries and post-processing. LLM
// failures are absorbed: the rule-based reply is returned instead.
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	var span trace.Span
	if o.tracer != nil {
		ctx, span = otel.StartClientSpan(ctx, o.tracer, "llm.generate",
			otel.AttrModel.String(o.cfg.Model),
			otel.AttrPurpose.String(req.Purpose),
			otel.AttrChannel.String(req.Channel),
		)
		defer span.End()
	}

	start := time.Now()
	text, err := o.chat(ctx, req)
	if o.metrics != nil {
		o.metrics.GenerateDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(otel.AttrPurpose.String(req.Purpose)))
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
		}
		o.logger.Warn("ollama generation failed, falling back to rule-based",
			"error", err, "purpose", req.Purpose, "channel", req.Channel)
		return o.fallback.Generate(ctx, req)
	}
	return postProcess(text, req.MaxLen), nil
}

func (o *Ollama) chat(ctx context.Context, req Request) (string, error) {
	msgs := o.buildMessages(req)

	content, doneReason, err := o.call(ctx, msgs, o.cfg.Think, o.cfg.Temperature, o.cfg.NumPredict)
	if err != nil {
		return "", err
	}

	// A thinking-only or length-truncated response gets one retry with
	// reasoning disabled and a floor on the output budget. This retry
	// and the language retry below are mutually exclusive.
	if content == "" || doneReason == "length" {
		o.countRetry(ctx, "empty")
		o.logger.Debug("retrying empty or truncated response", "done_reason", doneReason)
		content, _, err = o.call(ctx, withDirective(msgs, finalAnswerDirective),
			false, min(retriedTemperatureCap, o.cfg.Temperature), max(o.cfg.NumPredict, retriedPredictFloor))
		if err != nil {
			return "", err
		}
		if content == "" {
			return "", errors.New("empty response after retry")
		}
		return content, nil
	}

	if o.cfg.ForceRU && o.cfg.RetryNonRU && !russianLooking(content) {
		o.countRetry(ctx, "language")
		o.logger.Debug("retrying off-language response")
		fixed, _, err := o.call(ctx, withDirective(msgs, russianOnlyDirective),
			false, min(retriedTemperatureCap, o.cfg.Temperature), max(o.cfg.NumPredict, retriedPredictFloor))
		if err != nil || fixed == "" {
			o.logger.Warn("language retry failed, keeping original reply", "error", err)
			return content, nil
		}
		return fixed, nil
	}
	return content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature   float64 `json:"temperature"`
	NumCtx        int     `json:"num_ctx"`
	NumPredict    int     `json:"num_predict"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Think    bool          `json:"think"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Response   string `json:"response"`
	DoneReason string `json:"done_reason"`
	Error      string `json:"error"`
}

func (o *Ollama) call(ctx context.Context, msgs []chatMessage, think bool, temperature float64, numPredict int) (string, string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    o.cfg.Model,
		Messages: msgs,
		Stream:   false,
		Think:    think,
		Options: chatOptions{
			Temperature:   temperature,
			NumCtx:        o.cfg.NumCtx,
			NumPredict:    numPredict,
			TopP:          o.cfg.TopP,
			RepeatPenalty: o.cfg.RepeatPenalty,
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("chat endpoint returned status %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != "" {
		return "", "", fmt.Errorf("chat endpoint error: %s", out.Error)
	}

	content := strings.TrimSpace(out.Message.Content)
	if content == "" {
		content = strings.TrimSpace(out.Response)
	}
	return content, out.DoneReason, nil
}

func (o *Ollama) buildMessages(req Request) []chatMessage {
	s := req.Summary
	topic := "чат"
	if s != nil {
		topic = s.Topic
	}
	recent := formatRecent(req.Recent, o.maxContextMsgs)

	system := systemPrompt
	if o.cfg.ForceRU {
		system += " " + russianOnlyDirective
	}

	var user string
	switch req.Purpose {
	case PurposeInitiate:
		var keywords, questions string
		if s != nil {
			keywords = strings.Join(s.Keywords, ", ")
			questions = strings.Join(s.Questions, " | ")
		}
		user = fmt.Sprintf(
			"Текущая тема чата: %s\nКлючевые слова: %s\nВопросы в чате: %s\n\nПоследние сообщения:\n%s\n\nСформулируй уместную реплику, чтобы поддержать разговор по теме.",
			topic, keywords, questions, recent)
	case PurposeMention:
		user = fmt.Sprintf(
			"Тебя упомянули в чате. Пользователь: %s\nСообщение пользователя: %s\n\nКонтекст/тема: %s\nПоследние сообщения:\n%s\n\nОтветь коротко и по делу (1 сообщение).",
			req.User, req.UserText, topic, recent)
	default:
		user = fmt.Sprintf(
			"Пользователь задаёт вопрос через !ai. Пользователь: %s\nВопрос: %s\n\nТема чата: %s\nПоследние сообщения:\n%s\n\nДай короткий полезный ответ (1–2 предложения).",
			req.User, req.UserText, topic, recent)
	}

	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

// withDirective clones the prompt and appends a corrective instruction
// to the user message.
func withDirective(msgs []chatMessage, directive string) []chatMessage {
	out := slices.Clone(msgs)
	out[len(out)-1].Content += "\n\n" + directive
	return out
}

func (o *Ollama) countRetry(ctx context.Context, reason string) {
	if o.metrics == nil {
		return
	}
	o.metrics.GenerateRetries.Add(ctx, 1,
		metric.WithAttributes(otel.AttrReason.String(reason)))
}

// russianLooking reports whether text plausibly came out in Russian: no
// CJK at all, and at least twice as many cyrillic letters as latin.
// Letter-free text (pure emoji or punctuation) passes.
func russianLooking(s string) bool {
	var cyr, lat int
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			return false
		case unicode.Is(unicode.Cyrillic, r):
			cyr++
		case unicode.Is(unicode.Latin, r):
			lat++
		}
	}
	if !hasLetter {
		return true
	}
	return cyr >= max(1, 2*lat)
}
