// Package gateway runs the chat side of the bot: one connection to Twitch
// chat kept alive by a reconnect loop, a reader that turns PRIVMSG lines
// into IN stream entries, and a sender that drains the OUT stream back to
// chat under the rate limit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/basket/go-banter/internal/auth"
	"github.com/basket/go-banter/internal/bus"
	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/irc"
	"github.com/basket/go-banter/internal/otel"
	"github.com/basket/go-banter/internal/ratelimit"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second

	// Stale pending entries on OUT are reclaimed on this cadence so a
	// message a crashed consumer never acked still reaches chat.
	claimPeriod = 15 * time.Second
	claimIdle   = 60 * time.Second
	claimCount  = 10

	sendCount = 10
	sendBlock = 5 * time.Second
	retryWait = time.Second
)

// wire is the slice of the chat connection the gateway drives. *irc.Conn
// implements it.
type wire interface {
	Login(pass, nick string) error
	Join(channel string) error
	Privmsg(channel, text, replyParentID string) error
	ReadMessage() (irc.Message, error)
	Close() error
}

// streamBus is the slice of the bus client the gateway uses. *bus.Bus
// implements it.
type streamBus interface {
	Add(ctx context.Context, stream string, fields map[string]string) (string, error)
	ReadGroup(ctx context.Context, stream, group, consumer, from string, count int64, block time.Duration) ([]bus.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) []bus.Message
}

// Deps carries the gateway's collaborators. Logger and Clock default when
// nil; Tracer and Metrics stay nil when telemetry is off.
type Deps struct {
	Bus     streamBus
	Creds   auth.Source
	Bucket  *ratelimit.TokenBucket
	Logger  *slog.Logger
	Clock   func() time.Time
	Tracer  trace.Tracer
	Metrics *otel.Metrics
}

// Service owns the connection lifecycle. Create with New, drive with Run.
type Service struct {
	cfg     config.Gateway
	bus     streamBus
	creds   auth.Source
	bucket  *ratelimit.TokenBucket
	logger  *slog.Logger
	clock   func() time.Time
	tracer  trace.Tracer
	metrics *otel.Metrics

	dial   func(ctx context.Context) (wire, error)
	jitter func() float64
}

// New builds a Service around an established bus client and credential
// source.
func New(cfg config.Gateway, d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		cfg:     cfg,
		bus:     d.Bus,
		creds:   d.Creds,
		bucket:  d.Bucket,
		logger:  logger,
		clock:   clock,
		tracer:  d.Tracer,
		metrics: d.Metrics,
		dial: func(ctx context.Context) (wire, error) {
			return irc.Dial(ctx, cfg.Transport)
		},
		jitter: rand.Float64,
	}
}

// Run keeps a chat session alive until ctx is cancelled, reconnecting with
// jittered exponential backoff. Backoff resets to one second after any
// session that completed its JOIN cycle. Credential failures are returned
// instead of retried: they need either operator action or a supervisor
// restart with fresh state.
func (s *Service) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		joined, err := s.session(ctx)
		if err != nil {
			if errors.Is(err, auth.ErrCredentialMissing) || errors.Is(err, auth.ErrWrongAccount) ||
				errors.Is(err, auth.ErrRefreshFailed) || errors.Is(err, auth.ErrPersistFailed) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("chat session ended", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if joined {
			backoff = initialBackoff
		}
		delay := backoff + time.Duration(s.jitter()*float64(time.Second))
		s.logger.Info("reconnecting", "delay", delay.Round(time.Millisecond))
		if s.metrics != nil {
			s.metrics.Reconnects.Add(ctx, 1)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		backoff = min(2*backoff, maxBackoff)
	}
}

// session runs one connect, login, join, pump cycle and reports whether the
// JOIN cycle completed before the error that ended it.
func (s *Service) session(ctx context.Context) (joined bool, err error) {
	logger := s.logger.With("conn_id", uuid.NewString()[:8])

	pass, err := s.creds.IRCPass(ctx, false)
	if err != nil {
		return false, fmt.Errorf("credentials: %w", err)
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial chat: %w", err)
	}
	defer conn.Close()

	if err := conn.Login(pass, s.cfg.Nick); err != nil {
		return false, fmt.Errorf("login: %w", err)
	}
	for _, ch := range s.cfg.Channels {
		if err := conn.Join(ch); err != nil {
			return false, fmt.Errorf("join %s: %w", ch, err)
		}
	}
	logger.Info("joined", "nick", s.cfg.Nick, "channels", s.cfg.Channels)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Reads block on the socket, not on gctx; closing the connection
		// is what unblocks them when the other pump or ctx fails.
		<-gctx.Done()
		return conn.Close()
	})
	g.Go(func() error { return s.reader(gctx, conn, logger) })
	g.Go(func() error { return s.sender(gctx, conn, logger) })
	return true, g.Wait()
}

// reader pumps parsed lines into the IN stream. Only PRIVMSG is surfaced;
// everything else is debug-logged and dropped. A bus append failure ends
// the session so no chat line is silently lost.
func (s *Service) reader(ctx context.Context, conn wire, logger *slog.Logger) error {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reader: %w", err)
		}
		if msg.Command != "PRIVMSG" {
			logger.Debug("line dropped", "command", msg.Command)
			continue
		}
		if err := s.ingest(ctx, msg, logger); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
}

func (s *Service) ingest(ctx context.Context, msg irc.Message, logger *slog.Logger) error {
	m := bus.ChatMessage{
		TS:          s.clock().Unix(),
		Channel:     msg.Channel(),
		User:        msg.Nick(),
		Text:        msg.Trailing,
		MsgID:       msg.Tags["id"],
		UserID:      msg.Tags["user-id"],
		DisplayName: msg.Tags["display-name"],
		Badges:      msg.Tags["badges"],
		Mod:         msg.Tags["mod"],
		Subscriber:  msg.Tags["subscriber"],
		VIP:         msg.Tags["vip"],
		Raw:         msg.Raw,
	}
	if _, err := s.bus.Add(ctx, s.cfg.StreamIn, m.Fields()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.MessagesIngested.Add(ctx, 1)
	}
	logger.Debug("ingested", "channel", m.Channel, "user", m.User)
	return nil
}

// sender drains the OUT stream onto the wire. Bus read failures are retried
// in place; a write failure ends the session and leaves the entry pending
// for a later claim.
func (s *Service) sender(ctx context.Context, conn wire, logger *slog.Logger) error {
	var lastClaim time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if now := s.clock(); now.Sub(lastClaim) >= claimPeriod {
			lastClaim = now
			for _, m := range s.bus.ClaimStale(ctx, s.cfg.StreamOut, s.cfg.Group, s.cfg.Consumer, claimIdle, claimCount) {
				logger.Info("resending reclaimed entry", "id", m.ID)
				if s.metrics != nil {
					s.metrics.PendingReclaimed.Add(ctx, 1)
				}
				if err := s.sendOne(ctx, conn, logger, m); err != nil {
					return err
				}
			}
		}

		batch, err := s.bus.ReadGroup(ctx, s.cfg.StreamOut, s.cfg.Group, s.cfg.Consumer, ">", sendCount, sendBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("outbound read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryWait):
			}
			continue
		}
		for _, m := range batch {
			if err := s.sendOne(ctx, conn, logger, m); err != nil {
				return err
			}
		}
	}
}

// sendOne puts one OUT entry on the wire and acks it. Entries without a
// channel or text are acked and dropped.
func (s *Service) sendOne(ctx context.Context, conn wire, logger *slog.Logger, m bus.Message) error {
	out := bus.ParseOutbound(m.Fields)
	if out.Channel == "" || strings.TrimSpace(out.Text) == "" {
		logger.Warn("dropping invalid outbound entry", "id", m.ID)
		return s.bus.Ack(ctx, s.cfg.StreamOut, s.cfg.Group, m.ID)
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = otel.StartClientSpan(ctx, s.tracer, "gateway.send",
			otel.AttrChannel.String(out.Channel),
			otel.AttrStream.String(s.cfg.StreamOut))
		defer span.End()
	}

	if err := s.bucket.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := conn.Privmsg(out.Channel, out.Text, out.ReplyTo); err != nil {
		return fmt.Errorf("send to %s: %w", out.Channel, err)
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.Add(ctx, 1)
	}
	logger.Info("sent", "channel", out.Channel, "len", len(out.Text), "reply", out.ReplyTo != "")
	return s.bus.Ack(ctx, s.cfg.StreamOut, s.cfg.Group, m.ID)
}
