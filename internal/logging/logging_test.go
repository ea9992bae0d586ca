package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestInfoProducesOTELFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	Info("upload complete", F("attempt", 2, "status", 200))

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log entry: %v", err)
	}
	if entry.SeverityText != "INFO" {
		t.Errorf("SeverityText = %q, want INFO", entry.SeverityText)
	}
	if entry.SeverityNumber != 9 {
		t.Errorf("SeverityNumber = %d, want 9", entry.SeverityNumber)
	}
	if entry.Body != "upload complete" {
		t.Errorf("Body = %q", entry.Body)
	}
	if entry.Attributes["status"] != float64(200) {
		t.Errorf("Attributes[status] = %v", entry.Attributes["status"])
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	Debug("attempt detail")
	if buf.Len() != 0 {
		t.Fatalf("debug output emitted without SetDebug: %s", buf.String())
	}

	SetDebug(true)
	defer SetDebug(false)
	Debug("attempt detail")
	if !strings.Contains(buf.String(), "attempt detail") {
		t.Fatalf("debug output missing after SetDebug(true)")
	}
}

func TestResourceAttachedToEntries(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	SetResource(map[string]string{"service.name": "profile-bridge"})
	defer SetResource(nil)

	Warn("token not set")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Resource["service.name"] != "profile-bridge" {
		t.Errorf("Resource = %v", entry.Resource)
	}
}

func TestHookReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	var mu sync.Mutex
	var got []string
	SetHook(func(level Level, msg string, attrs map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(level)+":"+msg)
	})
	defer SetHook(nil)

	Error("export cycle failed")

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "ERROR:export cycle failed" {
		t.Fatalf("hook entries = %v", got)
	}
}

func TestSeverityNumber(t *testing.T) {
	cases := map[Level]int{
		LevelDebug: 5,
		LevelInfo:  9,
		LevelWarn:  13,
		LevelError: 17,
		LevelFatal: 21,
	}
	for level, want := range cases {
		if got := SeverityNumber(level); got != want {
			t.Errorf("SeverityNumber(%s) = %d, want %d", level, got, want)
		}
	}
}

func TestFIgnoresDanglingKey(t *testing.T) {
	fields := F("endpoint", "http://localhost:4040", "dangling")
	if len(fields) != 1 || fields["endpoint"] != "http://localhost:4040" {
		t.Errorf("F() = %v", fields)
	}
}
