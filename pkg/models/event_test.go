package models

import "testing"

func TestNewBatchFlushed(t *testing.T) {
	e := NewBatchFlushed("user-1", "batch-1", 3, "TIMEOUT")
	if e.Kind != EventKindBatchFlushed {
		t.Errorf("Kind = %v, want %v", e.Kind, EventKindBatchFlushed)
	}
	if e.UserID != "user-1" || e.BatchID != "batch-1" {
		t.Errorf("unexpected identifiers: %+v", e)
	}
	if e.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", e.MessageCount)
	}
	if e.FlushTrigger != "TIMEOUT" {
		t.Errorf("FlushTrigger = %q, want TIMEOUT", e.FlushTrigger)
	}
}

func TestNewBatchFailed(t *testing.T) {
	e := NewBatchFailed("user-1", "batch-1", 2, "SILENCE", "RETRY", "boom")
	if e.Kind != EventKindBatchFailed {
		t.Errorf("Kind = %v, want %v", e.Kind, EventKindBatchFailed)
	}
	if e.ErrorStrategy != "RETRY" {
		t.Errorf("ErrorStrategy = %q, want RETRY", e.ErrorStrategy)
	}
	if e.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", e.ErrorMessage)
	}
}
