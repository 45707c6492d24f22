package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_SetGetDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}

	if err := s.Set("personality", "42", "casual"); err != nil {
		t.Fatalf("set: %v", err)
	}
	var tone string
	ok, err := s.Get("personality", "42", &tone)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if tone != "casual" {
		t.Fatalf("want casual, got %q", tone)
	}

	ok, err = s.Get("personality", "43", &tone)
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if ok {
		t.Fatalf("absent record reported present")
	}

	if err := s.Delete("personality", "42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, _ = s.Get("personality", "42", &tone)
	if ok {
		t.Fatalf("record survived delete")
	}
}

func TestFileStore_LastWriterWins(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	if err := s.Set("ratelimit", "7", []int64{1, 2}); err != nil {
		t.Fatalf("set1: %v", err)
	}
	if err := s.Set("ratelimit", "7", []int64{3}); err != nil {
		t.Fatalf("set2: %v", err)
	}
	var ts []int64
	if ok, err := s.Get("ratelimit", "7", &ts); !ok || err != nil {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(ts) != 1 || ts[0] != 3 {
		t.Fatalf("second write lost: %v", ts)
	}
}

func TestFileStore_NamespacesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	if err := s.Set("a", "k", 1); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := s.Set("b", "k", 2); err != nil {
		t.Fatalf("set b: %v", err)
	}
	var v int
	if ok, _ := s.Get("a", "k", &v); !ok || v != 1 {
		t.Fatalf("namespace a: ok=%v v=%d", ok, v)
	}
	if ok, _ := s.Get("b", "k", &v); !ok || v != 2 {
		t.Fatalf("namespace b: ok=%v v=%d", ok, v)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.json")); err != nil {
		t.Fatalf("namespace file missing: %v", err)
	}
}

func TestFileStore_CorruptNamespaceIsNotWipedOut(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	path := filepath.Join(dir, "personality.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	var tone string
	if _, err := s.Get("personality", "42", &tone); err == nil {
		t.Fatalf("get on corrupt namespace must fail")
	}
	if err := s.Set("personality", "42", "casual"); err == nil {
		t.Fatalf("set on corrupt namespace must fail")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "{broken" {
		t.Fatalf("corrupt namespace was rewritten: %q", data)
	}
}

func TestUsageLog_AppendAndLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "usage.jsonl")
	l, err := NewUsageLog(p)
	if err != nil {
		t.Fatalf("init log: %v", err)
	}

	ev1 := NewUsageEvent(1, "hello", "hi there")
	ev2 := NewUsageEvent(2, "foo", "bar")
	if err := l.Append(ev1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := l.Append(ev2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	events, err := l.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2, got %d", len(events))
	}
	if events[0].UserID != 1 || events[1].UserID != 2 {
		t.Fatalf("order mismatch: %+v", events)
	}
	if events[0].InputLen != 5 || events[0].OutputLen != 8 {
		t.Fatalf("length fields wrong: %+v", events[0])
	}
	if events[0].RequestID == "" || events[0].RequestID == events[1].RequestID {
		t.Fatalf("request ids not unique: %+v", events)
	}
}
