package batching

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fathomlabs/agentcore/pkg/models"
)

func testMessage(id string) models.Message {
	return models.Message{ID: id, Content: id, CreatedAt: time.Now()}
}

type call struct {
	userID string
	batch  []models.Message
	pctx   ProcessContext
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) record(userID string, batch []models.Message, pctx ProcessContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]models.Message, len(batch))
	copy(cp, batch)
	r.calls = append(r.calls, call{userID: userID, batch: cp, pctx: pctx})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestSubmit_FlushesOnBufferFull(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 2
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = time.Hour

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		rec.record(userID, batch, pctx)
		return nil
	}, nil, nil)

	ctx := context.Background()
	if err := svc.Submit(ctx, "u1", testMessage("m1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Submit(ctx, "u1", testMessage("m2")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	last := rec.last()
	if len(last.batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(last.batch))
	}
	if last.pctx.Reason != TriggerBufferFull {
		t.Fatalf("Reason = %v, want BUFFER_FULL", last.pctx.Reason)
	}
	if last.pctx.FirstMessageID != "m1" || last.pctx.LastMessageID != "m2" {
		t.Fatalf("unexpected first/last message ids: %+v", last.pctx)
	}
}

func TestSubmit_FlushesOnTimeout(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 100
	cfg.MaxWait = 30 * time.Millisecond
	cfg.SilenceThreshold = time.Hour

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		rec.record(userID, batch, pctx)
		return nil
	}, nil, nil)

	if err := svc.Submit(context.Background(), "u1", testMessage("m1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	if rec.last().pctx.Reason != TriggerTimeout {
		t.Fatalf("Reason = %v, want TIMEOUT", rec.last().pctx.Reason)
	}
}

func TestSubmit_FlushesOnSilence(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 100
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = 30 * time.Millisecond
	cfg.ShrinkK = 2

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		rec.record(userID, batch, pctx)
		return nil
	}, nil, nil)

	ctx := context.Background()
	svc.Submit(ctx, "u1", testMessage("m1"))
	time.Sleep(10 * time.Millisecond)
	svc.Submit(ctx, "u1", testMessage("m2")) // resets silence timer

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	last := rec.last()
	if last.pctx.Reason != TriggerSilence {
		t.Fatalf("Reason = %v, want SILENCE", last.pctx.Reason)
	}
	if len(last.batch) != 2 {
		t.Fatalf("batch size = %d, want 2", len(last.batch))
	}
}

func TestFlush_ExplicitTrigger(t *testing.T) {
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = time.Hour

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		rec.record(userID, batch, pctx)
		return nil
	}, nil, nil)

	svc.Submit(context.Background(), "u1", testMessage("m1"))
	svc.Flush("u1")

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	if rec.last().pctx.Reason != TriggerUnknown {
		t.Fatalf("Reason = %v, want UNKNOWN", rec.last().pctx.Reason)
	}
}

func TestSilenceFor_AdaptiveCurve(t *testing.T) {
	cfg := Config{SilenceThreshold: 800 * time.Millisecond, ShrinkK: 2}

	cases := []struct {
		depth int
		want  time.Duration
	}{
		{0, 800 * time.Millisecond},
		{1, 800 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 200 * time.Millisecond},
		{6, 100 * time.Millisecond},
		{100, 100 * time.Millisecond}, // floored at 1/8 base = 100ms
	}
	for _, c := range cases {
		got := cfg.silenceFor(c.depth)
		if got != c.want {
			t.Errorf("silenceFor(%d) = %v, want %v", c.depth, got, c.want)
		}
	}
}

func TestBackpressure_Reject(t *testing.T) {
	block := make(chan struct{})
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = time.Hour
	cfg.Backpressure = BackpressureReject

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		<-block
		return nil
	}, nil, nil)
	defer close(block)

	ctx := context.Background()
	if err := svc.Submit(ctx, "u1", testMessage("m1")); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// Force a flush to put the slot into "processing".
	svc.Flush("u1")
	waitFor(t, time.Second, func() bool {
		svc.mu.RLock()
		sl := svc.slots["u1"]
		svc.mu.RUnlock()
		sl.mu.Lock()
		defer sl.mu.Unlock()
		return sl.processing
	})

	if err := svc.Submit(ctx, "u1", testMessage("m2")); err != nil {
		t.Fatalf("second Submit (mailbox empty) should succeed: %v", err)
	}
	if err := svc.Submit(ctx, "u1", testMessage("m3")); !errors.Is(err, ErrRejected) {
		t.Fatalf("third Submit err = %v, want ErrRejected", err)
	}
}

func TestErrorStrategy_DeadLetter(t *testing.T) {
	var dlCalls int
	var mu sync.Mutex

	cfg := DefaultConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = time.Hour
	cfg.ErrorStrategy = ErrorDeadLetter

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		return errors.New("boom")
	}, func(userID string, batch []models.Message, pctx ProcessContext, err error) {
		mu.Lock()
		dlCalls++
		mu.Unlock()
	}, nil)

	svc.Submit(context.Background(), "u1", testMessage("m1"))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dlCalls == 1
	})
}

func TestErrorStrategy_Retry_EventuallySucceeds(t *testing.T) {
	var attempts int
	var mu sync.Mutex

	cfg := DefaultConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = time.Hour
	cfg.ErrorStrategy = ErrorRetry
	cfg.RetryConfig.MaxAttempts = 3
	cfg.RetryConfig.InitialDelay = time.Millisecond
	cfg.RetryConfig.Jitter = false

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return errors.New("transient")
		}
		return nil
	}, func(userID string, batch []models.Message, pctx ProcessContext, err error) {
		t.Fatalf("dead letter should not be invoked: %v", err)
	}, nil)

	svc.Submit(context.Background(), "u1", testMessage("m1"))

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 2
	})
}

func TestEvictIdle_RemovesEmptyStaleSlots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleEviction = 10 * time.Millisecond

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		return nil
	}, nil, nil)

	svc.getOrCreateSlot("u1")
	time.Sleep(20 * time.Millisecond)
	svc.evictIdle()

	svc.mu.RLock()
	_, ok := svc.slots["u1"]
	svc.mu.RUnlock()
	if ok {
		t.Fatal("expected idle slot to be evicted")
	}
}

func TestOnlyOneProcessorInFlightPerUser(t *testing.T) {
	var concurrent, maxConcurrent int
	var mu sync.Mutex

	cfg := DefaultConfig()
	cfg.MaxBatchSize = 1
	cfg.MaxWait = time.Hour
	cfg.SilenceThreshold = time.Hour

	svc := New(cfg, func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		concurrent--
		mu.Unlock()
		return nil
	}, nil, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.Submit(ctx, "u1", testMessage("m"))
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 1 {
		t.Fatalf("maxConcurrent = %d, want <= 1", maxConcurrent)
	}
}
