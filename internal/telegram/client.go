package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen is the Bot API limit for a single message.
const maxMessageLen = 4096

// api is the slice of BotAPI the client depends on; tests fake it.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetWebhookInfo() (tgbotapi.WebhookInfo, error)
}

// Client wraps the Bot API with the handful of calls the relay needs.
type Client struct {
	api  api
	http *http.Client
}

func New(botToken string) (*Client, error) {
	botAPI, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("init bot api: %w", err)
	}
	return newWithAPI(botAPI), nil
}

func newWithAPI(a api) *Client {
	return &Client{
		api:  a,
		http: &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *Client) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, truncate(text))
	sent, err := c.api.Send(msg)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("send message: %w", err)
	}
	return sent, nil
}

func (c *Client) SendReply(chatID int64, replyTo int, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, truncate(text))
	msg.ReplyToMessageID = replyTo
	sent, err := c.api.Send(msg)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("send reply: %w", err)
	}
	return sent, nil
}

func (c *Client) EditMessage(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncate(text))
	if _, err := c.api.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// SendTyping shows the platform's native "typing" chat action.
func (c *Client) SendTyping(chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := c.api.Request(action); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// DownloadFile fetches a platform file (photo) by file id.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	defer func(b io.ReadCloser) {
		_ = b.Close()
	}(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch file: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	return data, nil
}

// SetWebhook registers domain + "/webhook" as the update target.
func (c *Client) SetWebhook(domain string) (string, error) {
	wh, err := tgbotapi.NewWebhook(domain + "/webhook")
	if err != nil {
		return "", fmt.Errorf("build webhook config: %w", err)
	}
	resp, err := c.api.Request(wh)
	if err != nil {
		return "", fmt.Errorf("set webhook: %w", err)
	}
	return resp.Description, nil
}

func (c *Client) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	info, err := c.api.GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, fmt.Errorf("get webhook info: %w", err)
	}
	return info, nil
}

func truncate(text string) string {
	if len(text) <= maxMessageLen {
		return text
	}
	cut := maxMessageLen - 3
	// Never split a multi-byte rune: the API rejects invalid UTF-8.
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
