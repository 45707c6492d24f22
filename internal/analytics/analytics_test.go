package analytics

import (
	"strings"
	"testing"
	"time"

	"ai-relay/internal/store"
)

func event(userID int64, ts time.Time, in, out int) store.UsageEvent {
	return store.UsageEvent{UserID: userID, Timestamp: ts, InputLen: in, OutputLen: out}
}

func TestAggregate(t *testing.T) {
	now := time.Now().UTC()
	events := []store.UsageEvent{
		event(1, now.Add(-time.Hour), 5, 10),
		event(1, now, 3, 7),
		event(2, now, 2, 4),
	}

	s := Aggregate(events)
	if s.TotalMessages != 3 {
		t.Fatalf("total messages: want 3, got %d", s.TotalMessages)
	}
	if s.UniqueUsers != 2 {
		t.Fatalf("unique users: want 2, got %d", s.UniqueUsers)
	}
	if s.InputBytes != 10 || s.OutputBytes != 21 {
		t.Fatalf("byte totals wrong: in=%d out=%d", s.InputBytes, s.OutputBytes)
	}
	u1 := s.UserStats[1]
	if u1.Messages != 2 || u1.InputBytes != 8 {
		t.Fatalf("user 1 stats wrong: %+v", u1)
	}
	if u1.LastSeen == nil || !u1.LastSeen.Equal(now) {
		t.Fatalf("last seen not most recent: %v", u1.LastSeen)
	}
}

func TestForDay(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []store.UsageEvent{
		event(1, day.Add(5*time.Hour), 1, 1),
		event(1, day.Add(-time.Minute), 1, 1),
		event(1, day.Add(24*time.Hour), 1, 1),
	}
	got := ForDay(events, day.Add(12*time.Hour))
	if len(got) != 1 {
		t.Fatalf("want 1 event for the day, got %d", len(got))
	}
}

func TestSummary(t *testing.T) {
	s := Aggregate([]store.UsageEvent{event(7, time.Now(), 5, 5)})
	sum := s.Summary("2024-03-10")
	if !strings.Contains(sum, "messages: 1") || !strings.Contains(sum, "- 7: 1 messages") {
		t.Fatalf("summary incomplete: %q", sum)
	}
}
