// Package brain runs the reactive side of the bot: it consumes chat from
// the inbound stream, keeps per-channel context windows, and decides when
// to answer directly and when to start talking on its own.
package brain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/go-banter/internal/bus"
	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/engine"
	"github.com/basket/go-banter/internal/filters"
	"github.com/basket/go-banter/internal/memory"
	"github.com/basket/go-banter/internal/otel"
	"github.com/basket/go-banter/internal/policy"
	"github.com/basket/go-banter/internal/summarize"
)

const (
	readCount = 50
	readBlock = 5 * time.Second
	retryWait = time.Second
)

// streamBus is the slice of the bus the brain touches.
type streamBus interface {
	ReadGroup(ctx context.Context, stream, group, consumer, from string, count int64, block time.Duration) ([]bus.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Add(ctx context.Context, stream string, fields map[string]string) (string, error)
}

// Deps carries the collaborators the service needs. Logger and Clock
// default to slog.Default and time.Now.
type Deps struct {
	Bus       streamBus
	Filters   *filters.Filters
	Generator engine.Generator
	Logger    *slog.Logger
	Clock     func() time.Time
	Tracer    trace.Tracer
	Metrics   *otel.Metrics
}

// Service is the brain loop. Not safe for concurrent Run calls; all
// state is owned by the single loop goroutine.
type Service struct {
	cfg       config.Brain
	policyCfg policy.Config
	bus       streamBus
	filters   *filters.Filters
	gen       engine.Generator
	buffers   *memory.ChatState
	states    policy.States
	allowed   map[string]struct{}
	logger    *slog.Logger
	clock     func() time.Time
	tracer    trace.Tracer
	metrics   *otel.Metrics

	lastBatchTS int64
}

// New wires a brain service from configuration and collaborators.
func New(cfg config.Brain, d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}

	allowed := make(map[string]struct{}, len(cfg.Allowlist))
	for _, ch := range cfg.Allowlist {
		allowed[strings.ToLower(ch)] = struct{}{}
	}

	return &Service{
		cfg: cfg,
		policyCfg: policy.Config{
			AutoSpeakEnabled:   cfg.AutoSpeak,
			SpeakEverySec:      int64(cfg.SpeakEverySec),
			TopicCooldownSec:   int64(cfg.TopicCooldownSec),
			MentionCooldownSec: int64(cfg.MentionCooldownSec),
			AICooldownSec:      int64(cfg.AICooldownSec),
			QuietAfterSec:      int64(cfg.QuietAfterSec),
			BusyChatMsgs10s:    cfg.BusyChatMsgs10s,
		},
		bus:         d.Bus,
		filters:     d.Filters,
		gen:         d.Generator,
		buffers:     memory.NewChatState(cfg.WindowSec, cfg.MaxItems).WithClock(clock),
		states:      policy.States{},
		allowed:     allowed,
		logger:      logger,
		clock:       clock,
		tracer:      d.Tracer,
		metrics:     d.Metrics,
		lastBatchTS: clock().Unix(),
	}
}

// Run consumes the inbound stream until ctx is canceled. Transient bus
// errors are logged and retried; they never end the loop.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("brain loop started",
		"stream_in", s.cfg.StreamIn,
		"group", s.cfg.Group,
		"consumer", s.cfg.Consumer,
		"bot_nick", s.cfg.BotNick,
		"autospeak", s.cfg.AutoSpeak)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		items, err := s.bus.ReadGroup(ctx, s.cfg.StreamIn, s.cfg.Group, s.cfg.Consumer, ">", readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("read inbound stream failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryWait):
			}
			continue
		}
		if len(items) == 0 {
			s.autospeakTick(ctx)
			continue
		}
		s.processBatch(ctx, items)
		s.autospeakTick(ctx)
	}
}

// processBatch handles one read batch and acks every entry in it,
// including the ones that were skipped.
func (s *Service) processBatch(ctx context.Context, items []bus.Message) {
	ackIDs := make([]string, 0, len(items))
	for _, item := range items {
		ackIDs = append(ackIDs, item.ID)
		if item.Fields["type"] != bus.TypeChatMessage {
			continue
		}
		s.handle(ctx, bus.ParseChatMessage(item.Fields))
	}
	if err := s.bus.Ack(ctx, s.cfg.StreamIn, s.cfg.Group, ackIDs...); err != nil {
		s.logger.Warn("ack failed, entries stay pending", "error", err, "count", len(ackIDs))
	}
}

// handle routes one chat line: explicit command first, then mention,
// otherwise indexing.
func (s *Service) handle(ctx context.Context, msg bus.ChatMessage) {
	channel := strings.ToLower(msg.Channel)
	if channel == "" || !s.allowedChannel(channel) {
		return
	}
	now := s.clock()
	st := s.states.Get(channel)

	if query, ok := filters.ParseAICommand(msg.Text); ok && policy.ShouldReplyAI(st, s.policyCfg, now) {
		s.reply(ctx, engine.Request{
			Purpose:  engine.PurposeAnswerAI,
			Channel:  channel,
			User:     msg.User,
			UserText: query,
		}, msg.MsgID, policy.ReasonAICommand)
		policy.MarkAIReplied(st, now)
		return
	}

	if filters.HasMention(msg.Text, s.cfg.BotNick) && policy.ShouldReplyMention(st, s.policyCfg, now) {
		s.index(ctx, msg, channel, now)
		s.reply(ctx, engine.Request{
			Purpose:  engine.PurposeMention,
			Channel:  channel,
			User:     msg.User,
			UserText: msg.Text,
		}, msg.MsgID, policy.ReasonMention)
		policy.MarkMentionReplied(st, now)
		return
	}

	s.index(ctx, msg, channel, now)
}

// index admits one line into the channel buffer if the filters pass.
func (s *Service) index(ctx context.Context, msg bus.ChatMessage, channel string, now time.Time) {
	res := s.filters.ShouldIndex(msg.User, msg.Text)
	if !res.OK {
		s.logger.Debug("message not indexed", "channel", channel, "reason", res.Reason)
		return
	}
	s.buffers.Add(memory.ChatItem{
		TS:      now.Unix(),
		Channel: channel,
		User:    msg.User,
		Text:    filters.Normalize(msg.Text),
	})
	if s.metrics != nil {
		s.metrics.MessagesIndexed.Add(ctx, 1,
			metric.WithAttributes(otel.AttrChannel.String(channel)))
	}
}

// reply generates a message for req and appends it to the OUT stream.
// replyTo threads direct replies to the triggering message.
func (s *Service) reply(ctx context.Context, req engine.Request, replyTo, reason string) {
	now := s.clock()
	var span trace.Span
	if s.tracer != nil {
		ctx, span = otel.StartSpan(ctx, s.tracer, "brain.reply",
			otel.AttrChannel.String(req.Channel),
			otel.AttrPurpose.String(req.Purpose),
			otel.AttrReason.String(reason),
		)
		defer span.End()
	}

	snap := s.buffers.Buffer(req.Channel).Snapshot(0)
	req.BotNick = s.cfg.BotNick
	req.Summary = summarize.Summarize(req.Channel, snap, now)
	req.Recent = snap
	req.MaxLen = s.cfg.MaxOutLen

	text, err := s.gen.Generate(ctx, req)
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("generation produced nothing",
			"error", err, "purpose", req.Purpose, "channel", req.Channel)
		return
	}

	out := bus.OutboundMessage{
		TS:      now.Unix(),
		Channel: req.Channel,
		Text:    text,
		ReplyTo: replyTo,
	}
	if _, err := s.bus.Add(ctx, s.cfg.StreamOut, out.Fields()); err != nil {
		s.logger.Warn("append outbound failed", "error", err, "channel", req.Channel)
		return
	}
	if s.metrics != nil {
		s.metrics.RepliesEmitted.Add(ctx, 1, metric.WithAttributes(
			otel.AttrChannel.String(req.Channel),
			otel.AttrReason.String(reason)))
	}
	s.logger.Info("reply sent",
		"channel", req.Channel, "purpose", req.Purpose, "reason", reason, "reply_to", replyTo)
}

// autospeakTick runs at most once per batch_sec and lets the policy
// decide, channel by channel, whether to start talking unprompted.
func (s *Service) autospeakTick(ctx context.Context) {
	now := s.clock()
	if now.Unix()-s.lastBatchTS < int64(s.cfg.BatchSec) {
		return
	}

	for _, channel := range s.buffers.Channels() {
		if !s.allowedChannel(channel) {
			continue
		}
		snap := s.buffers.Buffer(channel).Snapshot(0)
		sum := summarize.Summarize(channel, snap, now)
		st := s.states.Get(channel)
		reason := policy.DecideAutospeak(st, s.policyCfg, sum, now)
		if reason == "" {
			continue
		}
		s.logger.Info("autospeak triggered", "channel", channel, "reason", reason)
		s.reply(ctx, engine.Request{
			Purpose: engine.PurposeInitiate,
			Channel: channel,
		}, "", reason)
		policy.MarkSpoke(st, sum, reason, now)
	}

	s.lastBatchTS = now.Unix()
}

func (s *Service) allowedChannel(channel string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[channel]
	return ok
}
