package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/market-courier/internal/pkg/ctxlog"
)

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	TickInterval       time.Duration
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
	StaleAfter         time.Duration
	StaleSweepInterval time.Duration
	HeartbeatInterval  time.Duration
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:       2 * time.Second,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         60 * time.Second,
		BackoffMultiplier:  2.0,
		StaleAfter:         5 * time.Minute,
		StaleSweepInterval: 1 * time.Minute,
		HeartbeatInterval:  100 * time.Second,
	}
}

// Scheduler claims queue items one per tick and resolves their outcome.
//
// rateLimitedUntil is a process-wide pause set when the provider reports a
// rate limit. It is owned by the tick loop: Tick must not run concurrently.
type Scheduler struct {
	config   SchedulerConfig
	repo     QueueRepository
	registry *Registry
	now      func() time.Time

	rateLimitedUntil time.Time
	lastSweep        time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new queue scheduler.
func NewScheduler(config SchedulerConfig, repo QueueRepository, registry *Registry) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = defaults.StaleAfter
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.StaleAfter / 3
	}

	return &Scheduler{
		config:   config,
		repo:     repo,
		registry: registry,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the tick loop. Cancelling ctx only ends the loop: the item
// in flight keeps a context without the cancellation so that its send and
// resolve finish, and Stop waits for it.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting notification scheduler",
		"tick_interval", s.config.TickInterval,
		"stale_after", s.config.StaleAfter,
		"kinds", len(s.registry.Kinds()),
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops accepting ticks and waits for the in-flight item to resolve.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("notification scheduler stopped")
}

// RateLimitedUntil returns the end of the current provider pause.
func (s *Scheduler) RateLimitedUntil() time.Time {
	return s.rateLimitedUntil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick runs one scheduling step. It returns true if an item was processed.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.now()

	if now.Before(s.rateLimitedUntil) {
		recordTick("paused")
		return false
	}

	s.maybeSweep(ctx, now)

	item, err := s.repo.ClaimNext(ctx)
	if err != nil {
		slog.Error("failed to claim queue item", "error", err)
		recordTick("error")
		return false
	}
	if item == nil {
		recordTick("idle")
		return false
	}

	recordTick("claimed")
	s.process(ctx, item)
	return true
}

func (s *Scheduler) maybeSweep(ctx context.Context, now time.Time) {
	if s.config.StaleSweepInterval <= 0 || now.Sub(s.lastSweep) < s.config.StaleSweepInterval {
		return
	}
	s.lastSweep = now

	n, err := s.repo.RequeueStale(ctx, now.Add(-s.config.StaleAfter))
	if err != nil {
		slog.Error("failed to requeue stale items", "error", err)
		return
	}
	if n > 0 {
		recordStaleRequeued(n)
		slog.Warn("requeued stale processing items", "count", n)
	}
}

func (s *Scheduler) process(ctx context.Context, item *QueueItem) {
	start := s.now()

	handler, ok := s.registry.Lookup(item.Kind)
	if !ok {
		s.resolve(ctx, item, NonRetryable(fmt.Errorf("%w: %s", ErrNoHandler, item.Kind)), start)
		return
	}

	ctx = ctxlog.With(ctx, "item_id", item.ID, "kind", item.Kind)
	stopHeartbeat := s.heartbeat(ctx, item.ID)
	outcome := s.invoke(ctx, handler, item)
	stopHeartbeat()

	s.resolve(ctx, item, outcome, start)
}

// invoke calls the handler and maps a panic to a retryable failure.
func (s *Scheduler) invoke(ctx context.Context, handler KindHandler, item *QueueItem) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("notification handler panicked", "item_id", item.ID, "kind", item.Kind, "panic", r)
			outcome = Retryable(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler.Handle(ctx, item)
}

// heartbeat keeps updated_at fresh while a handler runs so the stale sweep
// of another replica does not reclaim the item mid-send.
func (s *Scheduler) heartbeat(ctx context.Context, id string) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.repo.Touch(ctx, id); err != nil {
					slog.Warn("failed to extend processing lease", "item_id", id, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) resolve(ctx context.Context, item *QueueItem, outcome Outcome, start time.Time) {
	now := s.now()
	duration := now.Sub(start)
	recordProcessed(item.Kind, outcome.Kind.String())

	switch outcome.Kind {
	case OutcomeSuccess:
		if err := s.repo.MarkCompleted(ctx, item.ID, duration); err != nil {
			slog.Error("failed to mark as completed", "item_id", item.ID, "error", err)
		}
		recordDuration(item.Kind, duration)
		slog.Info("notification delivered",
			"item_id", item.ID,
			"kind", item.Kind,
			"message_id", outcome.MessageID,
			"duration", duration,
		)

	case OutcomeRateLimited:
		retryAfter := outcome.RetryAfter
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		s.rateLimitedUntil = now.Add(retryAfter)
		recordRateLimitPause(retryAfter)
		if err := s.repo.MarkRateLimited(ctx, item.ID, outcome.Reason(), s.rateLimitedUntil); err != nil {
			slog.Error("failed to reschedule rate limited item", "item_id", item.ID, "error", err)
		}
		slog.Warn("provider rate limit, pausing scheduler",
			"item_id", item.ID,
			"retry_after", retryAfter,
			"until", s.rateLimitedUntil,
		)

	case OutcomeNonRetryable:
		if err := s.repo.MarkDeadLetter(ctx, item.ID, outcome.Reason()); err != nil {
			slog.Error("failed to mark as dead letter", "item_id", item.ID, "error", err)
		}
		slog.Warn("notification rejected",
			"item_id", item.ID,
			"kind", item.Kind,
			"error", outcome.Err,
		)

	default:
		s.handleRetryable(ctx, item, outcome)
	}
}

func (s *Scheduler) handleRetryable(ctx context.Context, item *QueueItem, outcome Outcome) {
	attempt := item.Attempts + 1

	slog.Warn("send failed",
		"item_id", item.ID,
		"attempt", attempt,
		"max_attempts", item.MaxAttempts,
		"error", outcome.Err,
	)

	if attempt >= item.MaxAttempts {
		reason := fmt.Sprintf("max attempts exceeded: %s", outcome.Reason())
		if err := s.repo.MarkDeadLetter(ctx, item.ID, reason); err != nil {
			slog.Error("failed to mark as dead letter", "item_id", item.ID, "error", err)
		}
		return
	}

	nextAttempt := s.calculateNextAttempt(attempt)
	if err := s.repo.MarkForRetry(ctx, item.ID, outcome.Reason(), nextAttempt); err != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", err)
		return
	}

	slog.Info("notification scheduled for retry",
		"item_id", item.ID,
		"next_attempt", nextAttempt,
	)
}

// calculateNextAttempt returns the retry time after attempts failed attempts:
// InitialBackoff * Multiplier^attempts, capped at MaxBackoff.
func (s *Scheduler) calculateNextAttempt(attempts int) time.Time {
	backoff := float64(s.config.InitialBackoff)
	for i := 0; i < attempts; i++ {
		backoff *= s.config.BackoffMultiplier
		if s.config.MaxBackoff > 0 && backoff > float64(s.config.MaxBackoff) {
			break
		}
	}

	if s.config.MaxBackoff > 0 && backoff > float64(s.config.MaxBackoff) {
		backoff = float64(s.config.MaxBackoff)
	}

	return s.now().Add(time.Duration(backoff))
}
