package relay

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Event is a normalized inbound user message.
type Event struct {
	ChatID      int64
	UserID      int64
	MessageID   int
	Text        string
	PhotoFileID string
	ReplyToText string
}

// Outcome classifies how an event was handled.
type Outcome string

const (
	OutcomeReplied         Outcome = "replied"
	OutcomeCommand         Outcome = "command"
	OutcomeInvalidEvent    Outcome = "invalid_event"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeDuplicate       Outcome = "duplicate_in_flight"
	OutcomeUpstreamFailure Outcome = "upstream_failure"
)

// FromUpdate flattens a Telegram update. The second return is false
// for updates that carry no user message.
func FromUpdate(u tgbotapi.Update) (Event, bool) {
	msg := u.Message
	if msg == nil {
		return Event{}, false
	}
	ev := Event{
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.Chat != nil {
		ev.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		ev.UserID = msg.From.ID
	}
	if len(msg.Photo) > 0 {
		// photo sizes are ordered smallest first; take the largest
		ev.PhotoFileID = msg.Photo[len(msg.Photo)-1].FileID
		if msg.Caption != "" {
			ev.Text = msg.Caption
		}
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyToText = msg.ReplyToMessage.Text
	}
	return ev, true
}

// IsPhoto reports whether the event carries an image attachment.
func (e Event) IsPhoto() bool {
	return e.PhotoFileID != ""
}

// Key derives the Conversation Key for duplicate suppression.
func (e Event) Key() Key {
	if e.IsPhoto() {
		return PhotoKey(e.ChatID)
	}
	return TextKey(e.ChatID, e.MessageID)
}
