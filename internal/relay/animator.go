package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// frames cycle through the placeholder message while the AI call is
// in flight.
var frames = []string{
	"⏳ Thinking",
	"⏳ Thinking.",
	"⏳ Thinking..",
	"⏳ Thinking...",
}

type editor interface {
	EditMessage(chatID int64, messageID int, text string) error
}

// Animator drives the placeholder edit cycle. It stops as soon as the
// Pending Result for its key is populated, when ctx is cancelled, or
// at the deadline, whichever comes first.
type Animator struct {
	table    *Table
	msg      editor
	interval time.Duration
	deadline time.Duration
	log      *logrus.Logger
}

func NewAnimator(table *Table, msg editor, interval, deadline time.Duration, log *logrus.Logger) *Animator {
	return &Animator{table: table, msg: msg, interval: interval, deadline: deadline, log: log}
}

func (a *Animator) Animate(ctx context.Context, key Key, chatID int64, messageID int) {
	deadline := time.NewTimer(a.deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if _, ready := a.table.Result(key); ready {
				return
			}
			frame = (frame + 1) % len(frames)
			if err := a.msg.EditMessage(chatID, messageID, frames[frame]); err != nil {
				a.log.WithError(err).Debug("progress edit failed")
			}
		}
	}
}
