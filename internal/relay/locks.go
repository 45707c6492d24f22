package relay

import (
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Key scopes duplicate suppression and animation to one conversation.
type Key string

// TextKey includes the message id: platform retries redeliver the same
// message id, while distinct messages in one chat stay independent.
func TextKey(chatID int64, messageID int) Key {
	return Key(fmt.Sprintf("text:%d:%d", chatID, messageID))
}

// PhotoKey is chat-scoped: one concurrent image job per chat.
func PhotoKey(chatID int64) Key {
	return Key(fmt.Sprintf("photo:%d", chatID))
}

// Table holds Processing Locks and Pending Results. Locks carry their
// creation time and expire after staleAfter, so a crashed operation
// cannot lock a conversation out forever.
type Table struct {
	locks   *cache.Cache
	results *cache.Cache
}

func NewTable(staleAfter time.Duration) *Table {
	return &Table{
		locks:   cache.New(staleAfter, staleAfter),
		results: cache.New(staleAfter, staleAfter),
	}
}

// Acquire creates the lock for key. It fails when a live lock exists.
func (t *Table) Acquire(key Key) bool {
	return t.locks.Add(string(key), time.Now(), cache.DefaultExpiration) == nil
}

// Release drops the lock and any pending result, on every exit path.
func (t *Table) Release(key Key) {
	t.locks.Delete(string(key))
	t.results.Delete(string(key))
}

// Locked reports whether a live lock exists for key.
func (t *Table) Locked(key Key) bool {
	_, ok := t.locks.Get(string(key))
	return ok
}

// PublishResult stores the completed response text; the animator polls
// for it and stops as soon as it appears.
func (t *Table) PublishResult(key Key, text string) {
	t.results.Set(string(key), text, cache.DefaultExpiration)
}

func (t *Table) Result(key Key) (string, bool) {
	v, ok := t.results.Get(string(key))
	if !ok {
		return "", false
	}
	return v.(string), true
}
