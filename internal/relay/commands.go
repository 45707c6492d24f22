package relay

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"ai-relay/internal/personality"
)

const helpText = `I relay your messages to an AI model and reply here.

Commands:
/start - short intro
/help - this message
/ai - how to talk to the bot
/clear - forget our conversation
/personality <tone> - set answer tone

Send a photo with a caption and I will describe or answer about it.`

// handleCommand short-circuits recognized commands without touching
// the AI client. The second return is false for anything else,
// including unknown /commands, which fall through as plain text.
func (c *Coordinator) handleCommand(ev Event) (string, bool) {
	if !strings.HasPrefix(ev.Text, "/") {
		return "", false
	}
	fields := strings.Fields(ev.Text)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/start":
		return "Hi! Send me any message and I'll answer with the help of an AI model. Try /help for details.", true
	case "/help":
		return helpText, true
	case "/ai":
		return "No command needed — just send your question as a regular message. Attach a photo to ask about an image.", true
	case "/clear":
		c.history.Reset(ev.UserID)
		if err := c.tones.Reset(ev.UserID); err != nil {
			c.log.WithError(err).WithField("user_id", ev.UserID).Warn("personality reset failed")
		}
		return "Conversation cleared. We're starting fresh.", true
	case "/personality":
		if len(args) == 0 {
			return fmt.Sprintf("Current tone: %s. Available: %s.",
				c.tones.Get(ev.UserID), strings.Join(personality.Tones(), ", ")), true
		}
		tone := strings.ToLower(args[0])
		if err := c.tones.Set(ev.UserID, tone); err != nil {
			return fmt.Sprintf("I don't know the tone %q. Available: %s.",
				tone, strings.Join(personality.Tones(), ", ")), true
		}
		return fmt.Sprintf("Tone set to %s.", tone), true
	case "/allow", "/deny", "/allowlist":
		if c.adminUser == 0 || ev.UserID != c.adminUser {
			return "", false
		}
		return c.handleAdminCommand(cmd, args), true
	}
	return "", false
}

// handleAdminCommand manages the allowlist. Only reachable for the
// configured admin user.
func (c *Coordinator) handleAdminCommand(cmd string, args []string) string {
	switch cmd {
	case "/allowlist":
		ids := c.authSvc.List()
		if len(ids) == 0 {
			return "Allowlist is empty — everyone is admitted."
		}
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, strconv.FormatInt(id, 10))
		}
		sort.Strings(parts)
		return "Allowed users: " + strings.Join(parts, ", ")
	case "/allow", "/deny":
		if len(args) == 0 {
			return fmt.Sprintf("Usage: %s <user id>", cmd)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Sprintf("%q is not a user id.", args[0])
		}
		if cmd == "/allow" {
			if err := c.authSvc.Add(id); err != nil {
				c.log.WithError(err).Error("allowlist add failed")
				return "Could not update the allowlist, try again."
			}
			return fmt.Sprintf("User %d added to the allowlist.", id)
		}
		if err := c.authSvc.Remove(id); err != nil {
			c.log.WithError(err).Error("allowlist remove failed")
			return "Could not update the allowlist, try again."
		}
		return fmt.Sprintf("User %d removed from the allowlist.", id)
	}
	return ""
}
