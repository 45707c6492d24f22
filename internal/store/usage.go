package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UsageEvent is one completed relay interaction. Entries are
// append-only; nothing in the relay mutates or deletes them.
type UsageEvent struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	InputLen  int       `json:"input_len"`
	OutputLen int       `json:"output_len"`
	Text      string    `json:"text"`
}

// NewUsageEvent stamps a fresh request id and UTC timestamp.
func NewUsageEvent(userID int64, input, output string) UsageEvent {
	return UsageEvent{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		InputLen:  len(input),
		OutputLen: len(output),
		Text:      input,
	}
}

// UsageLog appends events to a JSONL file. Appends are serialized so
// concurrent relay operations never interleave partial lines.
type UsageLog struct {
	path string
	mu   sync.Mutex
}

func NewUsageLog(path string) (*UsageLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to init log file: %w", err)
	}
	_ = f.Close()
	return &UsageLog{path: path}, nil
}

func (l *UsageLog) Append(event UsageEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	if err := enc.Encode(event); err != nil {
		return fmt.Errorf("encode append: %w", err)
	}
	return nil
}

func (l *UsageLog) Load() ([]UsageEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open read: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	s := bufio.NewScanner(f)
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 10*1024*1024)
	var events []UsageEvent
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev UsageEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return events, nil
}
