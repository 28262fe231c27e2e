// Package batching implements the Batching Service (§4.8): a per-user
// bounded mailbox that collects inbound messages and hands them to a
// processor callback when one of four triggers fires — wall-clock timeout,
// adaptive silence, buffer-full, or an explicit flush signal.
package batching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fathomlabs/agentcore/internal/retry"
	"github.com/fathomlabs/agentcore/pkg/models"
	"github.com/google/uuid"
)

// FlushTrigger identifies why a slot's mailbox was drained.
type FlushTrigger string

const (
	TriggerTimeout    FlushTrigger = "TIMEOUT"
	TriggerSilence    FlushTrigger = "SILENCE"
	TriggerBufferFull FlushTrigger = "BUFFER_FULL"
	TriggerUnknown    FlushTrigger = "UNKNOWN"
)

// ErrorStrategy governs what happens when a processor callback returns an
// error.
type ErrorStrategy string

const (
	ErrorRetry      ErrorStrategy = "RETRY"
	ErrorDeadLetter ErrorStrategy = "DEAD_LETTER"
	ErrorDrop       ErrorStrategy = "DROP"
	ErrorIgnore     ErrorStrategy = "IGNORE"
)

// BackpressurePolicy governs Submit when a slot's mailbox is already full
// and that slot is already processing a previous batch.
type BackpressurePolicy string

const (
	BackpressureReject     BackpressurePolicy = "REJECT"
	BackpressureBlock      BackpressurePolicy = "BLOCK"
	BackpressureDropOldest BackpressurePolicy = "DROP_OLDEST"
)

// ErrRejected is returned by Submit under BackpressureReject.
var ErrRejected = errors.New("batching: mailbox full, submission rejected")

// ErrBlockTimeout is returned by Submit under BackpressureBlock when no
// space freed up within Config.BlockTimeout.
var ErrBlockTimeout = errors.New("batching: timed out waiting for mailbox space")

// ProcessContext accompanies a batch handed to a Processor.
type ProcessContext struct {
	BatchID        string
	FirstMessageID string
	LastMessageID  string
	Reason         FlushTrigger
	RetryAttempt   int
}

// Processor consumes one flushed batch for a single user. Only one
// Processor call is ever in flight per user at a time.
type Processor func(ctx context.Context, userID string, batch []models.Message, pctx ProcessContext) error

// DeadLetterSink receives a batch that exhausted the RETRY strategy or was
// deliberately routed to ErrorDeadLetter.
type DeadLetterSink func(userID string, batch []models.Message, pctx ProcessContext, err error)

// TelemetrySink receives BatchFlushed/BatchFailed lifecycle events; nil
// drops them.
type TelemetrySink interface {
	Emit(models.Event)
}

// Config configures a Service (§4.8).
type Config struct {
	MaxBatchSize int
	MaxWait      time.Duration

	// SilenceThreshold is the base silence window; it shrinks as the
	// mailbox grows, per the adaptive curve in silenceFor.
	SilenceThreshold time.Duration
	// SilenceThresholdMin floors the adaptive curve. Zero means 1/8 of
	// SilenceThreshold.
	SilenceThresholdMin time.Duration
	// ShrinkK is the mailbox-depth step width the curve halves at. Zero
	// means 2.
	ShrinkK int

	MaxConcurrentUsers int
	ErrorStrategy      ErrorStrategy
	RetryConfig        retry.Config
	Backpressure       BackpressurePolicy
	BlockTimeout       time.Duration
	IdleEviction       time.Duration
}

// DefaultConfig returns reasonable defaults for every knob left unset.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:       10,
		MaxWait:            5 * time.Second,
		SilenceThreshold:   1500 * time.Millisecond,
		ShrinkK:            2,
		MaxConcurrentUsers: 16,
		ErrorStrategy:      ErrorDeadLetter,
		RetryConfig:        retry.DefaultConfig(),
		Backpressure:       BackpressureReject,
		BlockTimeout:       2 * time.Second,
		IdleEviction:       10 * time.Minute,
	}
}

func (c Config) silenceMin() time.Duration {
	if c.SilenceThresholdMin > 0 {
		return c.SilenceThresholdMin
	}
	return c.SilenceThreshold / 8
}

func (c Config) shrinkK() int {
	if c.ShrinkK > 0 {
		return c.ShrinkK
	}
	return 2
}

// silenceFor computes the adaptive silence threshold for a mailbox
// currently holding depth messages: threshold(n) = base · 2^(-floor(n/k)),
// floored at silenceMin (§4.8 resolved open question).
func (c Config) silenceFor(depth int) time.Duration {
	shrinks := depth / c.shrinkK()
	threshold := c.SilenceThreshold
	for i := 0; i < shrinks && threshold > c.silenceMin(); i++ {
		threshold /= 2
	}
	if threshold < c.silenceMin() {
		threshold = c.silenceMin()
	}
	return threshold
}

// slot is one user's mailbox. spaceFreed is closed and replaced every time
// finishProcessing runs, broadcasting to any BackpressureBlock submitter
// waiting for room — a channel-close broadcast instead of the sync.Cond
// used for a per-key write lock elsewhere in this repo, since a Cond's
// internal unlock on Wait doesn't compose safely with the external
// lock/unlock-before-select a bounded-wait submitter needs here.
type slot struct {
	mu sync.Mutex

	userID  string
	mailbox []models.Message

	firstArrival time.Time
	timeoutTimer *time.Timer
	silenceTimer *time.Timer

	processing   bool
	retryAttempt int
	lastActivity time.Time
	spaceFreed   chan struct{}
}

func newSlot(userID string) *slot {
	return &slot{userID: userID, lastActivity: time.Now(), spaceFreed: make(chan struct{})}
}

// Service is the per-key bounded mailbox described in §4.8.
type Service struct {
	config    Config
	processor Processor
	deadLetter DeadLetterSink
	telemetry TelemetrySink

	mu    sync.RWMutex
	slots map[string]*slot

	sem chan struct{}
	wg  sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Service. deadLetter and telemetry may both be nil.
func New(config Config, processor Processor, deadLetter DeadLetterSink, telemetry TelemetrySink) *Service {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if config.MaxConcurrentUsers <= 0 {
		config.MaxConcurrentUsers = DefaultConfig().MaxConcurrentUsers
	}
	return &Service{
		config:     config,
		processor:  processor,
		deadLetter: deadLetter,
		telemetry:  telemetry,
		slots:      make(map[string]*slot),
		sem:        make(chan struct{}, config.MaxConcurrentUsers),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the idle-eviction sweep; it returns once ctx is done.
func (s *Service) Start(ctx context.Context) {
	interval := s.config.IdleEviction / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// Shutdown stops accepting new eviction sweeps and waits for in-flight
// processor calls to finish, up to ctx's deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) getOrCreateSlot(userID string) *slot {
	s.mu.RLock()
	sl, ok := s.slots[userID]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[userID]; ok {
		return sl
	}
	sl = newSlot(userID)
	s.slots[userID] = sl
	return sl
}

// Submit appends msg to userID's mailbox, arming/re-arming the timeout and
// silence timers, and applies the configured BackpressurePolicy if the
// mailbox is already at capacity and a batch for this user is in flight.
func (s *Service) Submit(ctx context.Context, userID string, msg models.Message) error {
	sl := s.getOrCreateSlot(userID)

	sl.mu.Lock()
	for sl.processing && len(sl.mailbox) >= s.config.MaxBatchSize {
		switch s.config.Backpressure {
		case BackpressureDropOldest:
			sl.mailbox = append(sl.mailbox[1:], msg)
			sl.lastActivity = time.Now()
			sl.mu.Unlock()
			return nil

		case BackpressureBlock:
			waitCh := sl.spaceFreed
			timeout := s.config.BlockTimeout
			if timeout <= 0 {
				timeout = DefaultConfig().BlockTimeout
			}
			sl.mu.Unlock()
			select {
			case <-waitCh:
				sl.mu.Lock()
				continue
			case <-time.After(timeout):
				return ErrBlockTimeout
			case <-ctx.Done():
				return ctx.Err()
			}

		default: // BackpressureReject
			sl.mu.Unlock()
			return ErrRejected
		}
	}

	sl.mailbox = append(sl.mailbox, msg)
	sl.lastActivity = time.Now()
	if len(sl.mailbox) == 1 {
		sl.firstArrival = time.Now()
		sl.timeoutTimer = time.AfterFunc(s.config.MaxWait, func() { s.tryFlush(sl, TriggerTimeout) })
	}
	s.rearmSilenceLocked(sl)

	full := len(sl.mailbox) >= s.config.MaxBatchSize
	sl.mu.Unlock()

	if full {
		s.tryFlush(sl, TriggerBufferFull)
	}
	return nil
}

// rearmSilenceLocked resets the silence timer using the adaptive curve for
// the mailbox's current depth. Caller must hold sl.mu.
func (s *Service) rearmSilenceLocked(sl *slot) {
	if sl.silenceTimer != nil {
		sl.silenceTimer.Stop()
	}
	threshold := s.config.silenceFor(len(sl.mailbox))
	sl.silenceTimer = time.AfterFunc(threshold, func() { s.tryFlush(sl, TriggerSilence) })
}

// Flush manually triggers an explicit (UNKNOWN-reason) flush of userID's
// mailbox, if one exists and isn't empty.
func (s *Service) Flush(userID string) {
	s.mu.RLock()
	sl, ok := s.slots[userID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.tryFlush(sl, TriggerUnknown)
}

// tryFlush drains sl's mailbox atomically into a local batch and dispatches
// it to the processor, unless a flush for this slot is already in flight —
// the concurrency contract is at most one processor call per user at a time.
func (s *Service) tryFlush(sl *slot, trigger FlushTrigger) {
	sl.mu.Lock()
	if sl.processing || len(sl.mailbox) == 0 {
		sl.mu.Unlock()
		return
	}

	batch := sl.mailbox
	sl.mailbox = nil
	sl.processing = true
	if sl.timeoutTimer != nil {
		sl.timeoutTimer.Stop()
		sl.timeoutTimer = nil
	}
	if sl.silenceTimer != nil {
		sl.silenceTimer.Stop()
		sl.silenceTimer = nil
	}
	attempt := sl.retryAttempt
	sl.mu.Unlock()

	s.wg.Add(1)
	go s.dispatch(sl, batch, trigger, attempt)
}

func (s *Service) dispatch(sl *slot, batch []models.Message, trigger FlushTrigger, retryAttempt int) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.stopCh:
		s.finishProcessing(sl)
		return
	}

	pctx := ProcessContext{
		BatchID:        uuid.NewString(),
		FirstMessageID: batch[0].ID,
		LastMessageID:  batch[len(batch)-1].ID,
		Reason:         trigger,
		RetryAttempt:   retryAttempt,
	}

	err := s.processor(context.Background(), sl.userID, batch, pctx)
	if err == nil {
		s.emit(models.NewBatchFlushed(sl.userID, pctx.BatchID, len(batch), string(trigger)))
		s.finishProcessing(sl)
		return
	}

	s.handleFailure(sl, batch, pctx, err)
	s.finishProcessing(sl)
}

func (s *Service) handleFailure(sl *slot, batch []models.Message, pctx ProcessContext, err error) {
	switch s.config.ErrorStrategy {
	case ErrorRetry:
		result := retry.Do(context.Background(), s.config.RetryConfig, func() error {
			pctx.RetryAttempt++
			return s.processor(context.Background(), sl.userID, batch, pctx)
		})
		if result.Err == nil {
			s.emit(models.NewBatchFlushed(sl.userID, pctx.BatchID, len(batch), string(pctx.Reason)))
			return
		}
		err = fmt.Errorf("exhausted retries: %w", result.Err)
		if s.deadLetter != nil {
			s.deadLetter(sl.userID, batch, pctx, err)
		}

	case ErrorDeadLetter:
		if s.deadLetter != nil {
			s.deadLetter(sl.userID, batch, pctx, err)
		}

	case ErrorDrop, ErrorIgnore:
		// Dropped; ErrorIgnore additionally suppresses the failure event
		// below so a caller that only wants hard-failure visibility isn't
		// paged for every expected, ignorable processor error.
	}

	if s.config.ErrorStrategy != ErrorIgnore {
		s.emit(models.NewBatchFailed(sl.userID, pctx.BatchID, len(batch), string(pctx.Reason), string(s.config.ErrorStrategy), err.Error()))
	}
}

// finishProcessing clears the processing flag, rearms timers if more
// messages queued up mid-flush, and wakes any BackpressureBlock waiter.
func (s *Service) finishProcessing(sl *slot) {
	sl.mu.Lock()
	sl.processing = false
	sl.lastActivity = time.Now()
	if len(sl.mailbox) > 0 {
		sl.firstArrival = time.Now()
		sl.timeoutTimer = time.AfterFunc(s.config.MaxWait, func() { s.tryFlush(sl, TriggerTimeout) })
		s.rearmSilenceLocked(sl)
	}
	freed := sl.spaceFreed
	sl.spaceFreed = make(chan struct{})
	sl.mu.Unlock()
	close(freed)
}

// evictIdle removes slots that have been empty and idle longer than
// Config.IdleEviction.
func (s *Service) evictIdle() {
	cutoff := time.Now().Add(-s.config.IdleEviction)

	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, sl := range s.slots {
		sl.mu.Lock()
		idle := !sl.processing && len(sl.mailbox) == 0 && sl.lastActivity.Before(cutoff)
		sl.mu.Unlock()
		if idle {
			delete(s.slots, userID)
		}
	}
}

func (s *Service) emit(e models.Event) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.Emit(e)
}
