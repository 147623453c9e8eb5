// Package config loads the environment-driven configuration for the gateway
// and brain daemons. A .env file in the working directory is honored when
// present; real environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/basket/go-banter/internal/otel"
)

// Gateway holds everything the chat gateway needs.
type Gateway struct {
	Nick     string
	Channels []string

	// Credential source: OAuth is a static token; TokenFile points at the
	// managed bundle refreshed through the Twitch app credentials.
	OAuth          string
	TokenFile      string
	ClientID       string
	ClientSecret   string
	TokenMinTTLSec int
	RevalidateCron string

	Transport string // "tls" or "ws"

	RedisURL  string
	StreamIn  string
	StreamOut string
	Group     string
	Consumer  string

	RateLimitCount     int
	RateLimitWindowSec int

	LogLevel  string
	LogFormat string
	Otel      otel.Config
}

// Brain holds everything the chat brain needs.
type Brain struct {
	RedisURL  string
	StreamIn  string
	StreamOut string
	Group     string
	Consumer  string

	BotNick      string
	Allowlist    []string // empty allows every joined channel
	Banwords     []string
	BanwordsFile string
	MinTextLen   int

	WindowSec      int
	MaxItems       int
	MaxContextMsgs int

	BatchSec        int
	QuietAfterSec   int
	BusyChatMsgs10s int

	SpeakEverySec      int
	TopicCooldownSec   int
	MentionCooldownSec int
	AICooldownSec      int

	MaxOutLen int
	AutoSpeak bool

	Ollama Ollama

	LogLevel  string
	LogFormat string
	Otel      otel.Config
}

// Ollama wires the LLM endpoint. An empty URL selects the rule-based
// generator.
type Ollama struct {
	URL           string
	Model         string
	Temperature   float64
	NumCtx        int
	NumPredict    int
	TopP          float64
	RepeatPenalty float64
	TimeoutSec    int
	Think         bool
	ForceRU       bool
	RetryNonRU    bool
}

// LoadGateway reads the gateway configuration from the environment.
func LoadGateway() (Gateway, error) {
	_ = godotenv.Load()

	var err error
	cfg := Gateway{
		Nick:           strings.ToLower(envStr("TWITCH_NICK", "")),
		Channels:       envChannels("TWITCH_CHANNELS"),
		OAuth:          envStr("TWITCH_OAUTH", ""),
		TokenFile:      envStr("TWITCH_TOKEN_FILE", ""),
		ClientID:       envStr("TWITCH_APP_CLIENT_ID", ""),
		ClientSecret:   envStr("TWITCH_APP_CLIENT_SECRET", ""),
		RevalidateCron: envStr("TWITCH_REVALIDATE_CRON", "17 */4 * * *"),
		Transport:      strings.ToLower(envStr("IRC_TRANSPORT", "tls")),
		RedisURL:       envStr("REDIS_URL", "redis://redis:6379/0"),
		StreamIn:       envStr("REDIS_STREAM_IN", "twitch:in"),
		StreamOut:      envStr("REDIS_STREAM_OUT", "twitch:out"),
		Group:          envStr("REDIS_CONSUMER_GROUP", "twitch-gateway"),
		Consumer:       envStr("REDIS_CONSUMER_NAME", "gateway-1"),
		LogLevel:       envStr("LOG_LEVEL", "info"),
		LogFormat:      envStr("LOG_FORMAT", "auto"),
		Otel:           loadOtel("banter-gateway"),
	}
	if cfg.TokenMinTTLSec, err = envInt("TWITCH_TOKEN_MIN_TTL_SEC", 120); err != nil {
		return Gateway{}, err
	}
	if cfg.RateLimitCount, err = envInt("RATE_LIMIT_COUNT", 20); err != nil {
		return Gateway{}, err
	}
	if cfg.RateLimitWindowSec, err = envInt("RATE_LIMIT_WINDOW_SEC", 30); err != nil {
		return Gateway{}, err
	}

	if cfg.Nick == "" {
		return Gateway{}, fmt.Errorf("TWITCH_NICK is required")
	}
	if len(cfg.Channels) == 0 {
		return Gateway{}, fmt.Errorf("TWITCH_CHANNELS is required")
	}
	if cfg.OAuth == "" && cfg.TokenFile == "" {
		return Gateway{}, fmt.Errorf("one of TWITCH_OAUTH or TWITCH_TOKEN_FILE is required")
	}
	if cfg.OAuth == "" && (cfg.ClientID == "" || cfg.ClientSecret == "") {
		return Gateway{}, fmt.Errorf("TWITCH_TOKEN_FILE needs TWITCH_APP_CLIENT_ID and TWITCH_APP_CLIENT_SECRET for refresh")
	}
	if cfg.Transport != "tls" && cfg.Transport != "ws" {
		return Gateway{}, fmt.Errorf("IRC_TRANSPORT must be tls or ws, got %q", cfg.Transport)
	}
	return cfg, nil
}

// LoadBrain reads the brain configuration from the environment.
func LoadBrain() (Brain, error) {
	_ = godotenv.Load()

	var err error
	cfg := Brain{
		RedisURL:     envStr("REDIS_URL", "redis://redis:6379/0"),
		StreamIn:     envStr("REDIS_STREAM_IN", "twitch:in"),
		StreamOut:    envStr("REDIS_STREAM_OUT", "twitch:out"),
		Group:        envStr("REDIS_CONSUMER_GROUP", "ai-brain"),
		Consumer:     envStr("REDIS_CONSUMER_NAME", "brain-1"),
		BotNick:      strings.ToLower(envStr("BOT_NICK", "mybot")),
		Allowlist:    envChannels("CHANNEL_ALLOWLIST"),
		Banwords:     envList("BANWORDS"),
		BanwordsFile: envStr("BANWORDS_FILE", ""),
		AutoSpeak:    envBool("AUTO_SPEAK_ENABLED", true),
		LogLevel:     envStr("LOG_LEVEL", "info"),
		LogFormat:    envStr("LOG_FORMAT", "auto"),
		Otel:         loadOtel("banter-brain"),
	}
	if cfg.MinTextLen, err = envInt("MIN_TEXT_LEN", 3); err != nil {
		return Brain{}, err
	}
	if cfg.WindowSec, err = envInt("WINDOW_SEC", 120); err != nil {
		return Brain{}, err
	}
	if cfg.MaxItems, err = envInt("MAX_ITEMS", 200); err != nil {
		return Brain{}, err
	}
	if cfg.MaxContextMsgs, err = envInt("MAX_CONTEXT_MSGS", 15); err != nil {
		return Brain{}, err
	}
	if cfg.BatchSec, err = envInt("BATCH_SEC", 15); err != nil {
		return Brain{}, err
	}
	if cfg.QuietAfterSec, err = envInt("QUIET_AFTER_SEC", 30); err != nil {
		return Brain{}, err
	}
	if cfg.BusyChatMsgs10s, err = envInt("BUSY_CHAT_MSGS_10S", 8); err != nil {
		return Brain{}, err
	}
	if cfg.SpeakEverySec, err = envInt("SPEAK_EVERY_SEC", 180); err != nil {
		return Brain{}, err
	}
	if cfg.TopicCooldownSec, err = envInt("TOPIC_COOLDOWN_SEC", 600); err != nil {
		return Brain{}, err
	}
	if cfg.MentionCooldownSec, err = envInt("MENTION_COOLDOWN_SEC", 30); err != nil {
		return Brain{}, err
	}
	if cfg.AICooldownSec, err = envInt("AI_COOLDOWN_SEC", 8); err != nil {
		return Brain{}, err
	}
	if cfg.MaxOutLen, err = envInt("MAX_OUT_LEN", 350); err != nil {
		return Brain{}, err
	}
	if cfg.Ollama, err = loadOllama(); err != nil {
		return Brain{}, err
	}
	return cfg, nil
}

func loadOllama() (Ollama, error) {
	var err error
	o := Ollama{
		URL:        strings.TrimSpace(envStr("OLLAMA_URL", "")),
		Model:      strings.TrimSpace(envStr("OLLAMA_MODEL", "llama3.1:8b")),
		Think:      envBool("OLLAMA_THINK", false),
		ForceRU:    envBool("OLLAMA_FORCE_RU", true),
		RetryNonRU: envBool("OLLAMA_RETRY_NON_RU", true),
	}
	if o.Temperature, err = envFloat("OLLAMA_TEMPERATURE", 0.7); err != nil {
		return Ollama{}, err
	}
	if o.NumCtx, err = envInt("OLLAMA_NUM_CTX", 4096); err != nil {
		return Ollama{}, err
	}
	if o.NumPredict, err = envInt("OLLAMA_NUM_PREDICT", 256); err != nil {
		return Ollama{}, err
	}
	if o.TopP, err = envFloat("OLLAMA_TOP_P", 0.9); err != nil {
		return Ollama{}, err
	}
	if o.RepeatPenalty, err = envFloat("OLLAMA_REPEAT_PENALTY", 1.1); err != nil {
		return Ollama{}, err
	}
	if o.TimeoutSec, err = envInt("OLLAMA_TIMEOUT_SEC", 45); err != nil {
		return Ollama{}, err
	}
	return o, nil
}

func loadOtel(service string) otel.Config {
	rate, err := envFloat("OTEL_SAMPLE_RATE", 1.0)
	if err != nil {
		rate = 1.0
	}
	return otel.Config{
		Enabled:     envBool("OTEL_ENABLED", false),
		Exporter:    envStr("OTEL_EXPORTER", "otlp"),
		Endpoint:    envStr("OTEL_ENDPOINT", ""),
		ServiceName: envStr("OTEL_SERVICE_NAME", service),
		SampleRate:  rate,
	}
}

func envStr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

func envFloat(name string, def float64) (float64, error) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return f, nil
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// envList splits a comma-separated value, dropping empties.
func envList(name string) []string {
	raw := os.Getenv(name)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envChannels is envList plus channel normalization: no leading '#',
// lower-case.
func envChannels(name string) []string {
	var out []string
	for _, ch := range envList(name) {
		ch = strings.ToLower(strings.TrimPrefix(ch, "#"))
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out
}
