package security

import (
	"testing"
	"time"
)

func TestFloodDetector_AllowsWithinLimit(t *testing.T) {
	f := NewFloodDetector(time.Minute, 3)
	base := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if !f.allowAt("user-1", base.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("expected event %d to be allowed", i)
		}
	}
}

func TestFloodDetector_BlocksOverLimit(t *testing.T) {
	f := NewFloodDetector(time.Minute, 2)
	base := time.Unix(1700000000, 0)

	f.allowAt("user-1", base)
	f.allowAt("user-1", base.Add(time.Second))
	if f.allowAt("user-1", base.Add(2*time.Second)) {
		t.Fatal("expected third event within the window to be blocked")
	}
}

func TestFloodDetector_WindowSlidesOldEventsOut(t *testing.T) {
	f := NewFloodDetector(time.Minute, 2)
	base := time.Unix(1700000000, 0)

	f.allowAt("user-1", base)
	f.allowAt("user-1", base.Add(time.Second))
	if f.allowAt("user-1", base.Add(2*time.Minute)) != true {
		t.Fatal("expected events outside the window to no longer count")
	}
}

func TestFloodDetector_KeysAreIndependent(t *testing.T) {
	f := NewFloodDetector(time.Minute, 1)
	base := time.Unix(1700000000, 0)

	if !f.allowAt("user-1", base) {
		t.Fatal("expected first event for user-1 to be allowed")
	}
	if !f.allowAt("user-2", base) {
		t.Fatal("expected first event for user-2 to be allowed regardless of user-1's state")
	}
}

func TestFloodDetector_Reset(t *testing.T) {
	f := NewFloodDetector(time.Minute, 1)
	base := time.Unix(1700000000, 0)

	f.allowAt("user-1", base)
	if f.allowAt("user-1", base.Add(time.Second)) {
		t.Fatal("expected second event to be blocked before reset")
	}
	f.Reset("user-1")
	if !f.allowAt("user-1", base.Add(2*time.Second)) {
		t.Fatal("expected event to be allowed again after reset")
	}
}
