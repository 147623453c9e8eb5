package brain

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/basket/go-banter/internal/bus"
	"github.com/basket/go-banter/internal/config"
	"github.com/basket/go-banter/internal/engine"
	"github.com/basket/go-banter/internal/filters"
	"github.com/basket/go-banter/internal/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBus struct {
	mu    sync.Mutex
	acked []string
	out   []map[string]string
}

func (f *fakeBus) ReadGroup(context.Context, string, string, string, string, int64, time.Duration) ([]bus.Message, error) {
	return nil, nil
}

func (f *fakeBus) Ack(_ context.Context, _, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeBus) Add(_ context.Context, _ string, fields map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, fields)
	return "1-1", nil
}

type fakeGen struct {
	mu    sync.Mutex
	reqs  []engine.Request
	reply string
}

func (g *fakeGen) Generate(_ context.Context, req engine.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.reply, nil
}

func testService(t *testing.T) (*Service, *fakeBus, *fakeGen, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	fb := &fakeBus{}
	fg := &fakeGen{reply: "ответ"}
	cfg := config.Brain{
		StreamIn:           "twitch:in",
		StreamOut:          "twitch:out",
		Group:              "ai-brain",
		Consumer:           "brain-1",
		BotNick:            "mybot",
		Allowlist:          []string{"basket"},
		WindowSec:          120,
		MaxItems:           200,
		MaxContextMsgs:     15,
		BatchSec:           15,
		QuietAfterSec:      30,
		BusyChatMsgs10s:    8,
		SpeakEverySec:      180,
		TopicCooldownSec:   600,
		MentionCooldownSec: 30,
		AICooldownSec:      8,
		MaxOutLen:          350,
		AutoSpeak:          true,
	}
	svc := New(cfg, Deps{
		Bus:       fb,
		Filters:   filters.New(nil, "mybot", 3),
		Generator: fg,
		Logger:    discardLogger(),
		Clock:     func() time.Time { return now },
	})
	return svc, fb, fg, &now
}

func chatFields(channel, user, text, msgID string) map[string]string {
	return bus.ChatMessage{
		TS:      1_700_000_000,
		Channel: channel,
		User:    user,
		Text:    text,
		MsgID:   msgID,
	}.Fields()
}

func TestProcessBatch_AnswersAICommand(t *testing.T) {
	svc, fb, fg, _ := testService(t)

	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-1", Fields: chatFields("basket", "alice", "!ai какой билд лучше?", "tag-1")},
	})

	if len(fb.acked) != 1 || fb.acked[0] != "1-1" {
		t.Errorf("acked = %v, want [1-1]", fb.acked)
	}
	if len(fg.reqs) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(fg.reqs))
	}
	req := fg.reqs[0]
	if req.Purpose != engine.PurposeAnswerAI {
		t.Errorf("purpose = %q, want %q", req.Purpose, engine.PurposeAnswerAI)
	}
	if req.UserText != "какой билд лучше?" {
		t.Errorf("user text = %q, want parsed query", req.UserText)
	}
	if req.Channel != "basket" || req.User != "alice" {
		t.Errorf("req channel/user = %q/%q", req.Channel, req.User)
	}
	if req.MaxLen != 350 {
		t.Errorf("max len = %d, want 350", req.MaxLen)
	}
	if len(fb.out) != 1 {
		t.Fatalf("outbound entries = %d, want 1", len(fb.out))
	}
	out := fb.out[0]
	if out["reply_to"] != "tag-1" {
		t.Errorf("reply_to = %q, want tag-1", out["reply_to"])
	}
	if out["text"] != "ответ" || out["channel"] != "basket" {
		t.Errorf("outbound = %v", out)
	}
}

func TestProcessBatch_AICooldownFallsThroughToIndexing(t *testing.T) {
	svc, fb, fg, _ := testService(t)

	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-1", Fields: chatFields("basket", "alice", "!ai первый вопрос?", "tag-1")},
		{ID: "1-2", Fields: chatFields("basket", "bob", "!ai второй вопрос?", "tag-2")},
	})

	if len(fg.reqs) != 1 {
		t.Fatalf("generator calls = %d, want 1 (second hits cooldown)", len(fg.reqs))
	}
	if len(fb.out) != 1 {
		t.Errorf("outbound entries = %d, want 1", len(fb.out))
	}
	// The rate-limited command is still a chat line; it lands in the buffer.
	if got := svc.buffers.Buffer("basket").Len(); got != 1 {
		t.Errorf("buffered lines = %d, want 1", got)
	}
}

func TestProcessBatch_SkipsBootstrapAndDisallowed(t *testing.T) {
	svc, fb, fg, _ := testService(t)

	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-1", Fields: map[string]string{"_bootstrap": "1", "ts": "1700000000"}},
		{ID: "1-2", Fields: chatFields("other", "bob", "привет всем в чате", "")},
	})

	if len(fb.acked) != 2 {
		t.Errorf("acked = %v, want both entries", fb.acked)
	}
	if len(fg.reqs) != 0 || len(fb.out) != 0 {
		t.Errorf("replies = %d/%d, want none", len(fg.reqs), len(fb.out))
	}
	if chs := svc.buffers.Channels(); len(chs) != 0 {
		t.Errorf("buffered channels = %v, want none", chs)
	}
}

func TestProcessBatch_MentionRepliesAndIndexes(t *testing.T) {
	svc, fb, fg, _ := testService(t)
	text := "@mybot привет, как дела?"

	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-1", Fields: chatFields("basket", "carol", text, "tag-9")},
	})

	if len(fg.reqs) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(fg.reqs))
	}
	if fg.reqs[0].Purpose != engine.PurposeMention {
		t.Errorf("purpose = %q, want %q", fg.reqs[0].Purpose, engine.PurposeMention)
	}
	if fg.reqs[0].UserText != text {
		t.Errorf("user text = %q, want the raw line", fg.reqs[0].UserText)
	}
	if len(fb.out) != 1 || fb.out[0]["reply_to"] != "tag-9" {
		t.Fatalf("outbound = %v, want one threaded reply", fb.out)
	}
	if fb.out[0]["ts"] != strconv.FormatInt(1_700_000_000, 10) {
		t.Errorf("ts = %q", fb.out[0]["ts"])
	}
	// The mention itself is context too.
	if got := svc.buffers.Buffer("basket").Len(); got != 1 {
		t.Errorf("buffered lines = %d, want 1", got)
	}

	// A second mention inside the cooldown is indexed but not answered.
	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-2", Fields: chatFields("basket", "dave", "@mybot а меня видно?", "tag-10")},
	})
	if len(fg.reqs) != 1 {
		t.Errorf("generator calls = %d, want still 1", len(fg.reqs))
	}
	if got := svc.buffers.Buffer("basket").Len(); got != 2 {
		t.Errorf("buffered lines = %d, want 2", got)
	}
}

func TestProcessBatch_IndexingFilters(t *testing.T) {
	svc, fb, fg, _ := testService(t)

	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-1", Fields: chatFields("basket", "alice", "обсуждаем новый патч", "")},
		{ID: "1-2", Fields: chatFields("basket", "bob", "ок", "")},
		{ID: "1-3", Fields: chatFields("basket", "carol", "глянь https://example.com", "")},
		{ID: "1-4", Fields: chatFields("basket", "mybot", "моё собственное сообщение", "")},
	})

	if len(fg.reqs) != 0 || len(fb.out) != 0 {
		t.Errorf("replies = %d/%d, want none", len(fg.reqs), len(fb.out))
	}
	if got := svc.buffers.Buffer("basket").Len(); got != 1 {
		t.Errorf("buffered lines = %d, want only the plain message", got)
	}
	snap := svc.buffers.Buffer("basket").Snapshot(0)
	if snap[0].Text != "обсуждаем новый патч" || snap[0].User != "alice" {
		t.Errorf("buffered item = %+v", snap[0])
	}
}

func TestAutospeakTick_QuietChannel(t *testing.T) {
	svc, fb, fg, now := testService(t)
	ctx := context.Background()

	svc.processBatch(ctx, []bus.Message{
		{ID: "1-1", Fields: chatFields("basket", "alice", "кто-нибудь прошёл второго босса?", "")},
	})

	// Inside the batch window nothing happens.
	svc.autospeakTick(ctx)
	if len(fb.out) != 0 {
		t.Fatalf("outbound before batch window = %v", fb.out)
	}

	// 40s later the channel is quiet and the batch window elapsed.
	*now = now.Add(40 * time.Second)
	svc.autospeakTick(ctx)

	if len(fg.reqs) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(fg.reqs))
	}
	if fg.reqs[0].Purpose != engine.PurposeInitiate {
		t.Errorf("purpose = %q, want %q", fg.reqs[0].Purpose, engine.PurposeInitiate)
	}
	if fg.reqs[0].Summary == nil {
		t.Error("initiate request carries no summary")
	}
	if len(fb.out) != 1 {
		t.Fatalf("outbound entries = %d, want 1", len(fb.out))
	}
	if _, ok := fb.out[0]["reply_to"]; ok {
		t.Error("initiation must not carry reply_to")
	}

	// The global speak cooldown blocks the next round.
	*now = now.Add(40 * time.Second)
	svc.autospeakTick(ctx)
	if len(fb.out) != 1 {
		t.Errorf("outbound entries = %d, want still 1", len(fb.out))
	}
}

func TestAutospeakTick_SkipsDisallowedChannel(t *testing.T) {
	svc, fb, _, now := testService(t)

	svc.buffers.Add(memory.ChatItem{
		TS:      now.Unix(),
		Channel: "other",
		User:    "bob",
		Text:    "тут никто не разрешал говорить",
	})

	*now = now.Add(40 * time.Second)
	svc.autospeakTick(context.Background())
	if len(fb.out) != 0 {
		t.Errorf("outbound = %v, want none for disallowed channel", fb.out)
	}
}

func TestReply_EmptyGenerationDropped(t *testing.T) {
	svc, fb, fg, _ := testService(t)
	fg.reply = "   "

	svc.processBatch(context.Background(), []bus.Message{
		{ID: "1-1", Fields: chatFields("basket", "alice", "!ai вопрос без ответа?", "tag-1")},
	})

	if len(fb.out) != 0 {
		t.Errorf("outbound = %v, want none for blank generation", fb.out)
	}
}
