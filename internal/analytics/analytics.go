package analytics

import (
	"fmt"
	"sort"
	"time"

	"ai-relay/internal/store"
)

// Stats aggregates usage log events.
type Stats struct {
	TotalMessages int                 `json:"total_messages"`
	UniqueUsers   int                 `json:"unique_users"`
	InputBytes    int                 `json:"input_bytes"`
	OutputBytes   int                 `json:"output_bytes"`
	UserStats     map[int64]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID      int64      `json:"user_id"`
	Messages    int        `json:"messages"`
	InputBytes  int        `json:"input_bytes"`
	OutputBytes int        `json:"output_bytes"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// Aggregate folds all events into totals and per-user rows.
func Aggregate(events []store.UsageEvent) *Stats {
	stats := &Stats{UserStats: make(map[int64]UserStats)}
	unique := make(map[int64]bool)

	for _, ev := range events {
		stats.TotalMessages++
		stats.InputBytes += ev.InputLen
		stats.OutputBytes += ev.OutputLen
		unique[ev.UserID] = true

		us := stats.UserStats[ev.UserID]
		us.UserID = ev.UserID
		us.Messages++
		us.InputBytes += ev.InputLen
		us.OutputBytes += ev.OutputLen
		if us.LastSeen == nil || ev.Timestamp.After(*us.LastSeen) {
			ts := ev.Timestamp
			us.LastSeen = &ts
		}
		stats.UserStats[ev.UserID] = us
	}

	stats.UniqueUsers = len(unique)
	return stats
}

// ForDay keeps only events that happened on the given day.
func ForDay(events []store.UsageEvent, day time.Time) []store.UsageEvent {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	var out []store.UsageEvent
	for _, ev := range events {
		if ev.Timestamp.Before(start) || !ev.Timestamp.Before(end) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Summary renders a short human-readable report for the admin chat.
func (s *Stats) Summary(date string) string {
	out := fmt.Sprintf("Usage for %s:\n- messages: %d\n- unique users: %d\n- input: %d bytes, output: %d bytes\n",
		date, s.TotalMessages, s.UniqueUsers, s.InputBytes, s.OutputBytes)
	if len(s.UserStats) == 0 {
		return out
	}
	ids := make([]int64, 0, len(s.UserStats))
	for id := range s.UserStats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out += "Per user:\n"
	for _, id := range ids {
		us := s.UserStats[id]
		out += fmt.Sprintf("- %d: %d messages\n", us.UserID, us.Messages)
	}
	return out
}
