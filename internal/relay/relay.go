package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"ai-relay/internal/auth"
	"ai-relay/internal/history"
	"ai-relay/internal/llm"
	"ai-relay/internal/personality"
	"ai-relay/internal/ratelimit"
	"ai-relay/internal/store"
)

const (
	apologyReply     = "Sorry, something went wrong. Please try again."
	rateLimitedReply = "Please wait a moment — you're sending messages faster than I can handle."
	notAllowedReply  = "Sorry, this bot is private."
	defaultPhotoAsk  = "Describe this image."

	// staleLockAfter bounds how long a Processing Lock can outlive its
	// operation before it is treated as stale.
	staleLockAfter = 2 * time.Minute
)

// Messenger is the slice of the messaging client the coordinator uses.
type Messenger interface {
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendReply(chatID int64, replyTo int, text string) (tgbotapi.Message, error)
	EditMessage(chatID int64, messageID int, text string) error
	SendTyping(chatID int64) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Coordinator is the relay core: it deduplicates concurrent processing
// per conversation, drives the progress animation alongside the
// blocking AI call, and emits the final formatted reply.
type Coordinator struct {
	msg          Messenger
	ai           llm.Client
	authSvc      *auth.Service
	limiter      *ratelimit.Limiter
	tones        *personality.Service
	history      *history.Manager
	usage        *store.UsageLog
	table        *Table
	animator     *Animator
	systemPrompt string
	adminUser    int64
	log          *logrus.Logger
}

type Options struct {
	SystemPrompt     string
	AdminUser        int64
	AnimatorInterval time.Duration
	AnimatorDeadline time.Duration
}

func NewCoordinator(
	msg Messenger,
	ai llm.Client,
	authSvc *auth.Service,
	limiter *ratelimit.Limiter,
	tones *personality.Service,
	hist *history.Manager,
	usage *store.UsageLog,
	log *logrus.Logger,
	opts Options,
) *Coordinator {
	if opts.AnimatorInterval <= 0 {
		opts.AnimatorInterval = 500 * time.Millisecond
	}
	if opts.AnimatorDeadline <= 0 {
		opts.AnimatorDeadline = 45 * time.Second
	}
	table := NewTable(staleLockAfter)
	return &Coordinator{
		msg:          msg,
		ai:           ai,
		authSvc:      authSvc,
		limiter:      limiter,
		tones:        tones,
		history:      hist,
		usage:        usage,
		table:        table,
		animator:     NewAnimator(table, msg, opts.AnimatorInterval, opts.AnimatorDeadline, log),
		systemPrompt: opts.SystemPrompt,
		adminUser:    opts.AdminUser,
		log:          log,
	}
}

// HandleInboundEvent processes one normalized inbound event end to
// end. Per-event failures never escape; the outcome tells the boundary
// what happened.
func (c *Coordinator) HandleInboundEvent(ctx context.Context, ev Event) Outcome {
	if ev.ChatID == 0 || ev.UserID == 0 {
		c.log.WithFields(logrus.Fields{"chat_id": ev.ChatID, "user_id": ev.UserID}).
			Warn("discarding event with unresolved identifiers")
		return OutcomeInvalidEvent
	}

	if !c.isAllowed(ev.UserID) {
		c.log.WithField("user_id", ev.UserID).Info("message from user outside allowlist")
		c.reply(ev, notAllowedReply)
		return OutcomeUnauthorized
	}

	allowed, err := c.limiter.Allow(ev.UserID)
	if err != nil {
		// advisory throttling: a broken counter must not block users
		c.log.WithError(err).Warn("rate counter unavailable, letting request through")
		allowed = true
	}
	if !allowed {
		c.reply(ev, rateLimitedReply)
		return OutcomeRateLimited
	}

	if reply, handled := c.handleCommand(ev); handled {
		c.reply(ev, reply)
		return OutcomeCommand
	}

	if ev.Text == "" && !ev.IsPhoto() {
		c.log.WithFields(logrus.Fields{"chat_id": ev.ChatID, "user_id": ev.UserID}).
			Debug("discarding event with no text and no photo")
		return OutcomeInvalidEvent
	}

	key := ev.Key()
	if !c.table.Acquire(key) {
		c.log.WithField("key", string(key)).Debug("duplicate event while in flight, discarding")
		return OutcomeDuplicate
	}
	defer c.table.Release(key)

	return c.process(ctx, ev, key)
}

// process runs the AI round trip under an already-held lock.
func (c *Coordinator) process(ctx context.Context, ev Event, key Key) Outcome {
	if err := c.msg.SendTyping(ev.ChatID); err != nil {
		c.log.WithError(err).Debug("chat action failed")
	}

	placeholder, err := c.msg.SendReply(ev.ChatID, ev.MessageID, frames[0])
	if err != nil {
		c.log.WithError(err).Error("placeholder send failed")
		return OutcomeUpstreamFailure
	}

	animCtx, stopAnim := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.animator.Animate(animCtx, key, ev.ChatID, placeholder.MessageID)
	}()

	resp, aiErr := c.invoke(ctx, ev)

	// Stop the animation before touching the placeholder again, so a
	// late frame cannot overwrite the final text.
	if aiErr == nil {
		c.table.PublishResult(key, resp.Content)
	}
	stopAnim()
	wg.Wait()

	if aiErr != nil {
		c.log.WithError(aiErr).WithField("user_id", ev.UserID).Error("ai request failed")
		if err := c.msg.EditMessage(ev.ChatID, placeholder.MessageID, apologyReply); err != nil {
			c.log.WithError(err).Error("apology edit failed")
		}
		return OutcomeUpstreamFailure
	}

	final := formatReply(resp)
	if err := c.msg.EditMessage(ev.ChatID, placeholder.MessageID, final); err != nil {
		c.log.WithError(err).Error("final edit failed")
		return OutcomeUpstreamFailure
	}

	c.history.AppendUser(ev.UserID, c.prompt(ev))
	c.history.AppendAssistant(ev.UserID, resp.Content)
	if err := c.usage.Append(store.NewUsageEvent(ev.UserID, c.prompt(ev), resp.Content)); err != nil {
		c.log.WithError(err).Warn("usage append failed")
	}
	return OutcomeReplied
}

// invoke performs the one blocking AI call of the relay.
func (c *Coordinator) invoke(ctx context.Context, ev Event) (llm.Response, error) {
	msgs := c.buildContext(ev)
	if !ev.IsPhoto() {
		return c.ai.Generate(ctx, msgs)
	}
	image, err := c.msg.DownloadFile(ctx, ev.PhotoFileID)
	if err != nil {
		return llm.Response{}, fmt.Errorf("download photo: %w", err)
	}
	return c.ai.GenerateVision(ctx, msgs, image)
}

// Answer serves the generic chat API: same context assembly, no
// Telegram round trip and no animation.
func (c *Coordinator) Answer(ctx context.Context, userID int64, message string) (string, error) {
	ev := Event{UserID: userID, Text: message}
	resp, err := c.ai.Generate(ctx, c.buildContext(ev))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	c.history.AppendUser(userID, message)
	c.history.AppendAssistant(userID, resp.Content)
	if err := c.usage.Append(store.NewUsageEvent(userID, message, resp.Content)); err != nil {
		c.log.WithError(err).Warn("usage append failed")
	}
	return resp.Content, nil
}

func (c *Coordinator) buildContext(ev Event) []llm.Message {
	var msgs []llm.Message
	if c.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: c.systemPrompt})
	}
	msgs = append(msgs, llm.Message{Role: "system", Content: c.tones.Instruction(ev.UserID)})
	msgs = append(msgs, c.history.Get(ev.UserID)...)
	prompt := c.prompt(ev)
	if ev.ReplyToText != "" {
		prompt = "Regarding: " + ev.ReplyToText + "\n\n" + prompt
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: prompt})
	return msgs
}

func (c *Coordinator) prompt(ev Event) string {
	if ev.Text != "" {
		return ev.Text
	}
	return defaultPhotoAsk
}

// isAllowed admits the admin unconditionally so allowlist management
// cannot lock them out.
func (c *Coordinator) isAllowed(userID int64) bool {
	if c.adminUser != 0 && userID == c.adminUser {
		return true
	}
	return c.authSvc.IsAllowed(userID)
}

func (c *Coordinator) reply(ev Event, text string) {
	if _, err := c.msg.SendReply(ev.ChatID, ev.MessageID, text); err != nil {
		c.log.WithError(err).Error("reply failed")
	}
}

func formatReply(resp llm.Response) string {
	meta := fmt.Sprintf("[model=%s, tokens: prompt=%d, completion=%d, total=%d]",
		resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	return meta + "\n\n" + resp.Content
}
