package relay

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"ai-relay/internal/auth"
	"ai-relay/internal/history"
	"ai-relay/internal/llm"
	"ai-relay/internal/personality"
	"ai-relay/internal/ratelimit"
	"ai-relay/internal/store"
)

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []string
	edits  []string
	nextID int
	photo  []byte
}

func (f *fakeMessenger) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	return f.send(text)
}

func (f *fakeMessenger) SendReply(chatID int64, replyTo int, text string) (tgbotapi.Message, error) {
	return f.send(text)
}

func (f *fakeMessenger) send(text string) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeMessenger) EditMessage(chatID int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeMessenger) SendTyping(chatID int64) error { return nil }

func (f *fakeMessenger) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return f.photo, nil
}

func (f *fakeMessenger) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

func (f *fakeMessenger) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeLLM struct {
	resp        llm.Response
	err         error
	delay       time.Duration
	calls       int64
	visionCalls int64
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.resp, f.err
}

func (f *fakeLLM) GenerateVision(ctx context.Context, msgs []llm.Message, image []byte) (llm.Response, error) {
	atomic.AddInt64(&f.visionCalls, 1)
	return f.resp, f.err
}

type fixture struct {
	coord *Coordinator
	msg   *fakeMessenger
	ai    *fakeLLM
	tones *personality.Service
	usage *store.UsageLog
}

func newFixture(t *testing.T, ai *fakeLLM, allowed []int64, burst int) *fixture {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	usage, err := store.NewUsageLog(filepath.Join(t.TempDir(), "usage.jsonl"))
	if err != nil {
		t.Fatalf("init usage log: %v", err)
	}
	authSvc, err := auth.New(nil, allowed)
	if err != nil {
		t.Fatalf("init auth: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	msg := &fakeMessenger{photo: []byte("jpeg")}
	tones := personality.New(fs)
	coord := NewCoordinator(
		msg, ai, authSvc,
		ratelimit.New(fs, burst),
		tones,
		history.NewManager(),
		usage, log,
		Options{AnimatorInterval: 5 * time.Millisecond, AnimatorDeadline: time.Second},
	)
	return &fixture{coord: coord, msg: msg, ai: ai, tones: tones, usage: usage}
}

func TestEndToEnd_TextReply(t *testing.T) {
	f := newFixture(t, &fakeLLM{resp: llm.Response{Content: "Hi there", Model: "test-model"}}, nil, 100)

	out := f.coord.HandleInboundEvent(context.Background(), Event{ChatID: 1, UserID: 2, MessageID: 10, Text: "hello"})
	if out != OutcomeReplied {
		t.Fatalf("outcome: %v", out)
	}

	final := f.msg.lastEdit()
	if !strings.Contains(final, "Hi there") {
		t.Fatalf("response body missing: %q", final)
	}
	if !strings.Contains(final, "[model=test-model") {
		t.Fatalf("template wrapper missing: %q", final)
	}

	events, err := f.usage.Load()
	if err != nil {
		t.Fatalf("load usage: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 usage entry, got %d", len(events))
	}
	if events[0].InputLen != 5 || events[0].UserID != 2 {
		t.Fatalf("usage entry wrong: %+v", events[0])
	}
}

func TestDuplicateEvent_SingleAICall(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "ok"}, delay: 100 * time.Millisecond}
	f := newFixture(t, ai, nil, 100)

	ev := Event{ChatID: 1, UserID: 2, MessageID: 33, Text: "expensive question"}
	outcomes := make(chan Outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- f.coord.HandleInboundEvent(context.Background(), ev)
		}()
	}
	wg.Wait()
	close(outcomes)

	var replied, dropped int
	for out := range outcomes {
		switch out {
		case OutcomeReplied:
			replied++
		case OutcomeDuplicate:
			dropped++
		default:
			t.Fatalf("unexpected outcome %v", out)
		}
	}
	if replied != 1 || dropped != 1 {
		t.Fatalf("want 1 replied + 1 duplicate, got %d/%d", replied, dropped)
	}
	if n := atomic.LoadInt64(&ai.calls); n != 1 {
		t.Fatalf("ai called %d times for duplicate events", n)
	}
}

func TestLockReleasedAfterFailure(t *testing.T) {
	ai := &fakeLLM{err: errors.New("upstream exploded")}
	f := newFixture(t, ai, nil, 100)

	ev := Event{ChatID: 1, UserID: 2, MessageID: 5, Text: "hi"}
	if out := f.coord.HandleInboundEvent(context.Background(), ev); out != OutcomeUpstreamFailure {
		t.Fatalf("outcome: %v", out)
	}
	if f.msg.lastEdit() != apologyReply {
		t.Fatalf("apology not sent: %q", f.msg.lastEdit())
	}
	if f.coord.table.Locked(ev.Key()) {
		t.Fatalf("lock survived failure path")
	}

	// same conversation processes again once the lock is gone
	ai.err = nil
	ai.resp = llm.Response{Content: "recovered"}
	if out := f.coord.HandleInboundEvent(context.Background(), ev); out != OutcomeReplied {
		t.Fatalf("retry outcome: %v", out)
	}
}

func TestRateLimited(t *testing.T) {
	f := newFixture(t, &fakeLLM{resp: llm.Response{Content: "ok"}}, nil, 0)

	ev := Event{ChatID: 1, UserID: 9, MessageID: 1, Text: "one"}
	if out := f.coord.HandleInboundEvent(context.Background(), ev); out != OutcomeReplied {
		t.Fatalf("first event: %v", out)
	}
	ev.MessageID = 2
	if out := f.coord.HandleInboundEvent(context.Background(), ev); out != OutcomeRateLimited {
		t.Fatalf("second event: %v", out)
	}
	texts := f.msg.sentTexts()
	if texts[len(texts)-1] != rateLimitedReply {
		t.Fatalf("rate limit reply missing: %v", texts)
	}
}

func TestInvalidEvent_Discarded(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "ok"}}
	f := newFixture(t, ai, nil, 100)

	if out := f.coord.HandleInboundEvent(context.Background(), Event{ChatID: 0, UserID: 2, Text: "x"}); out != OutcomeInvalidEvent {
		t.Fatalf("zero chat id accepted: %v", out)
	}
	if out := f.coord.HandleInboundEvent(context.Background(), Event{ChatID: 1, UserID: 0, Text: "x"}); out != OutcomeInvalidEvent {
		t.Fatalf("zero user id accepted: %v", out)
	}
	if len(f.msg.sentTexts()) != 0 {
		t.Fatalf("invalid events produced replies: %v", f.msg.sentTexts())
	}
	if atomic.LoadInt64(&ai.calls) != 0 {
		t.Fatalf("ai invoked for invalid event")
	}
}

func TestEmptyEvent_DiscardedAndLogged(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "ok"}}
	f := newFixture(t, ai, nil, 100)
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.coord.log = logger

	out := f.coord.HandleInboundEvent(context.Background(), Event{ChatID: 1, UserID: 2, MessageID: 1, Text: ""})
	if out != OutcomeInvalidEvent {
		t.Fatalf("empty event accepted: %v", out)
	}
	if atomic.LoadInt64(&ai.calls) != 0 {
		t.Fatalf("ai invoked for empty event")
	}
	entry := hook.LastEntry()
	if entry == nil || !strings.Contains(entry.Message, "no text and no photo") {
		t.Fatalf("discard not logged: %+v", entry)
	}
}

func TestUnauthorizedUser(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "ok"}}
	f := newFixture(t, ai, []int64{1}, 100)

	out := f.coord.HandleInboundEvent(context.Background(), Event{ChatID: 1, UserID: 2, MessageID: 1, Text: "hi"})
	if out != OutcomeUnauthorized {
		t.Fatalf("outcome: %v", out)
	}
	if atomic.LoadInt64(&ai.calls) != 0 {
		t.Fatalf("ai invoked for unauthorized user")
	}
}

func TestPhotoEvent_UsesVision(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "a cat"}}
	f := newFixture(t, ai, nil, 100)

	ev := Event{ChatID: 4, UserID: 2, MessageID: 8, PhotoFileID: "file-1", Text: "what is this?"}
	if out := f.coord.HandleInboundEvent(context.Background(), ev); out != OutcomeReplied {
		t.Fatalf("outcome: %v", out)
	}
	if atomic.LoadInt64(&ai.visionCalls) != 1 {
		t.Fatalf("vision path not used")
	}
	if atomic.LoadInt64(&ai.calls) != 0 {
		t.Fatalf("text path used for photo event")
	}
}

func TestCommands_BypassAI(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "should not appear"}}
	f := newFixture(t, ai, nil, 100)
	ctx := context.Background()

	ev := Event{ChatID: 1, UserID: 7, MessageID: 1}
	for i, text := range []string{"/start", "/help", "/ai"} {
		ev.Text = text
		ev.MessageID = i + 1
		if out := f.coord.HandleInboundEvent(ctx, ev); out != OutcomeCommand {
			t.Fatalf("%s outcome: %v", text, out)
		}
	}
	if atomic.LoadInt64(&ai.calls) != 0 {
		t.Fatalf("commands reached the ai client")
	}
}

func TestPersonalityCommand(t *testing.T) {
	f := newFixture(t, &fakeLLM{}, nil, 100)
	ctx := context.Background()

	ev := Event{ChatID: 1, UserID: 7, MessageID: 1, Text: "/personality casual"}
	if out := f.coord.HandleInboundEvent(ctx, ev); out != OutcomeCommand {
		t.Fatalf("outcome: %v", out)
	}
	if got := f.tones.Get(7); got != personality.ToneCasual {
		t.Fatalf("tone not stored: %q", got)
	}

	ev.Text = "/personality grumpy"
	ev.MessageID = 2
	if out := f.coord.HandleInboundEvent(ctx, ev); out != OutcomeCommand {
		t.Fatalf("outcome: %v", out)
	}
	texts := f.msg.sentTexts()
	if !strings.Contains(texts[len(texts)-1], "don't know the tone") {
		t.Fatalf("invalid tone not reported: %v", texts)
	}
	if got := f.tones.Get(7); got != personality.ToneCasual {
		t.Fatalf("invalid tone mutated state: %q", got)
	}
}

func TestAllowlistCommands_AdminOnly(t *testing.T) {
	ai := &fakeLLM{resp: llm.Response{Content: "ok"}}
	f := newFixture(t, ai, nil, 100)
	f.coord.adminUser = 99
	ctx := context.Background()

	// a non-admin sees /allow as plain text, which goes to the model
	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 7, MessageID: 1, Text: "/allow 5"}); out != OutcomeReplied {
		t.Fatalf("non-admin outcome: %v", out)
	}
	if len(f.coord.authSvc.List()) != 0 {
		t.Fatalf("allowlist mutated by non-admin: %v", f.coord.authSvc.List())
	}

	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 99, MessageID: 2, Text: "/allow 5"}); out != OutcomeCommand {
		t.Fatalf("admin allow outcome: %v", out)
	}
	if !f.coord.authSvc.IsAllowed(5) || f.coord.authSvc.IsAllowed(7) {
		t.Fatalf("allowlist not updated: %v", f.coord.authSvc.List())
	}

	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 99, MessageID: 3, Text: "/allowlist"}); out != OutcomeCommand {
		t.Fatalf("allowlist outcome: %v", out)
	}
	texts := f.msg.sentTexts()
	if !strings.Contains(texts[len(texts)-1], "5") {
		t.Fatalf("listing missing allowed user: %v", texts)
	}

	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 99, MessageID: 4, Text: "/deny 5"}); out != OutcomeCommand {
		t.Fatalf("admin deny outcome: %v", out)
	}
	if len(f.coord.authSvc.List()) != 0 {
		t.Fatalf("user survived /deny: %v", f.coord.authSvc.List())
	}

	// the admin stays in even with a non-empty allowlist they are not on
	if err := f.coord.authSvc.Add(5); err != nil {
		t.Fatalf("add: %v", err)
	}
	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 99, MessageID: 5, Text: "/allowlist"}); out != OutcomeCommand {
		t.Fatalf("admin locked out: %v", out)
	}
}

func TestClearCommand_ResetsToBaseline(t *testing.T) {
	f := newFixture(t, &fakeLLM{resp: llm.Response{Content: "hey"}}, nil, 100)
	ctx := context.Background()

	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 7, MessageID: 1, Text: "/personality formal"}); out != OutcomeCommand {
		t.Fatalf("set tone failed")
	}
	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 7, MessageID: 2, Text: "remember me"}); out != OutcomeReplied {
		t.Fatalf("chat failed")
	}

	if out := f.coord.HandleInboundEvent(ctx, Event{ChatID: 1, UserID: 7, MessageID: 3, Text: "/clear"}); out != OutcomeCommand {
		t.Fatalf("clear failed")
	}
	if got := f.tones.Get(7); got != personality.Default {
		t.Fatalf("tone not back to baseline: %q", got)
	}
	if len(f.coord.history.Get(7)) != 0 {
		t.Fatalf("history survived /clear")
	}
}
