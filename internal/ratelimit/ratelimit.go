package ratelimit

import (
	"strconv"
	"time"
)

// Window is the trailing interval timestamps are counted over.
const Window = time.Minute

const namespace = "ratelimit"

type Store interface {
	Get(namespace, key string, out interface{}) (bool, error)
	Set(namespace, key string, value interface{}) error
}

// Limiter counts per-user request timestamps over a sliding window.
// It is advisory: the read-filter-append sequence is not atomic across
// requests, which favors availability over strict enforcement.
type Limiter struct {
	store Store
	burst int
	now   func() time.Time
}

func New(store Store, burst int) *Limiter {
	return &Limiter{store: store, burst: burst, now: time.Now}
}

// Allow records the request and reports whether the user is within the
// burst threshold. Entries older than the window are pruned on write.
func (l *Limiter) Allow(userID int64) (bool, error) {
	key := strconv.FormatInt(userID, 10)
	var stamps []int64
	if _, err := l.store.Get(namespace, key, &stamps); err != nil {
		return false, err
	}

	now := l.now()
	cutoff := now.Add(-Window).UnixMilli()
	recent := stamps[:0]
	for _, s := range stamps {
		if s >= cutoff {
			recent = append(recent, s)
		}
	}

	if len(recent) > l.burst {
		// Over the limit: do not record the rejected attempt, so a
		// user who backs off recovers as the window slides.
		return false, l.store.Set(namespace, key, recent)
	}

	recent = append(recent, now.UnixMilli())
	return true, l.store.Set(namespace, key, recent)
}
