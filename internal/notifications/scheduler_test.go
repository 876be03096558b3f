package notifications_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/bissquit/market-courier/internal/notifications/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	store     *memory.Store
	service   *notifications.Service
	registry  *notifications.Registry
	scheduler *notifications.Scheduler
}

// newSchedulerFixture runs the store clock an hour ahead so backoff delays
// have always elapsed when the next tick claims.
func newSchedulerFixture(t *testing.T, config notifications.SchedulerConfig) *schedulerFixture {
	t.Helper()

	store := memory.NewStore()
	store.SetClock(func() time.Time { return time.Now().Add(time.Hour) })

	registry := notifications.NewRegistry()
	return &schedulerFixture{
		store:     store,
		service:   notifications.NewService(notifications.DefaultServiceConfig(), store, store),
		registry:  registry,
		scheduler: notifications.NewScheduler(config, store, registry),
	}
}

func (f *schedulerFixture) enqueue(t *testing.T, kind notifications.Kind, userID string, priority notifications.Priority) string {
	t.Helper()
	result, err := f.service.Enqueue(context.Background(), notifications.EnqueueInput{
		Kind:     kind,
		Payload:  notifications.Payload{notifications.KeyUserID: userID, notifications.KeyText: "hi"},
		Priority: priority,
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	return result.ItemID
}

func (f *schedulerFixture) item(t *testing.T, id string) *notifications.QueueItem {
	t.Helper()
	item, err := f.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (f *schedulerFixture) handle(kind notifications.Kind, fn func(ctx context.Context, item *notifications.QueueItem) notifications.Outcome) {
	f.registry.Register(kind, notifications.KindHandlerFunc(fn))
}

func TestScheduler_Tick_EmptyQueue(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	assert.False(t, f.scheduler.Tick(context.Background()))
}

func TestScheduler_Tick_Success(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		return notifications.Success("msg-1")
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	assert.True(t, f.scheduler.Tick(context.Background()))

	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusCompleted, item.Status)
	assert.NotNil(t, item.ProcessedAt)
	assert.NotNil(t, item.ProcessingTimeMS)
	assert.Equal(t, 0, item.Attempts)
}

func TestScheduler_Tick_OneItemPerTick(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	var calls atomic.Int32
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		calls.Add(1)
		return notifications.Success("ok")
	})
	f.enqueue(t, notifications.KindPersonal, "u-1", "")
	f.enqueue(t, notifications.KindPersonal, "u-2", "")

	f.scheduler.Tick(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	f.scheduler.Tick(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_Tick_PriorityOrder(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	var order []string
	f.handle(notifications.KindPersonal, func(_ context.Context, item *notifications.QueueItem) notifications.Outcome {
		order = append(order, item.Payload.String(notifications.KeyUserID))
		return notifications.Success("ok")
	})

	f.enqueue(t, notifications.KindPersonal, "low", notifications.PriorityLow)
	f.enqueue(t, notifications.KindPersonal, "normal", notifications.PriorityNormal)
	f.enqueue(t, notifications.KindPersonal, "high", notifications.PriorityHigh)

	for f.scheduler.Tick(context.Background()) {
	}

	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestScheduler_Retry_TerminatesAtMaxAttempts(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	var calls atomic.Int32
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		calls.Add(1)
		return notifications.Retryable(errors.New("bad gateway"))
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	// one extra tick proves the dead-lettered item is never claimed again
	for range notifications.DefaultServiceConfig().MaxAttempts + 1 {
		f.scheduler.Tick(context.Background())
	}

	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusDeadLetter, item.Status)
	assert.Equal(t, 3, item.Attempts)
	assert.Contains(t, item.LastError, "max attempts exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduler_Retry_SchedulesBackoff(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		return notifications.Retryable(errors.New("timeout"))
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	before := time.Now()
	f.scheduler.Tick(context.Background())

	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "timeout", item.LastError)
	assert.False(t, item.ScheduledFor.Before(before.Add(2*time.Second)))
}

func TestScheduler_NonRetryable_DeadLettersImmediately(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		return notifications.NonRetryable(notifications.ErrNotEligible)
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	f.scheduler.Tick(context.Background())

	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusDeadLetter, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, notifications.ErrNotEligible.Error(), item.LastError)
}

func TestScheduler_RateLimit_PausesWithoutConsumingAttempts(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	var calls atomic.Int32
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		calls.Add(1)
		return notifications.RateLimited(30*time.Second, errors.New("too many requests"))
	})
	first := f.enqueue(t, notifications.KindPersonal, "u-1", "")
	f.enqueue(t, notifications.KindPersonal, "u-2", "")

	before := time.Now()
	assert.True(t, f.scheduler.Tick(context.Background()))

	item := f.item(t, first)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
	assert.Equal(t, 0, item.Attempts)
	assert.False(t, f.scheduler.RateLimitedUntil().Before(before.Add(30*time.Second)))

	// the pause is process-wide: the second item is not claimed either
	assert.False(t, f.scheduler.Tick(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	stats, err := f.store.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
}

func TestScheduler_UnknownKind_DeadLetters(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	assert.True(t, f.scheduler.Tick(context.Background()))

	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusDeadLetter, item.Status)
	assert.Contains(t, item.LastError, notifications.ErrNoHandler.Error())
}

func TestScheduler_HandlerPanic_IsRetried(t *testing.T) {
	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		panic("boom")
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	require.NotPanics(t, func() { f.scheduler.Tick(context.Background()) })

	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Contains(t, item.LastError, "handler panic: boom")
}

func TestScheduler_RequeuesStaleItems(t *testing.T) {
	store := memory.NewStore()
	registry := notifications.NewRegistry()
	var calls atomic.Int32
	registry.Register(notifications.KindPersonal, notifications.KindHandlerFunc(func(context.Context, *notifications.QueueItem) notifications.Outcome {
		calls.Add(1)
		return notifications.Success("ok")
	}))

	// an item claimed two hours ago by a replica that never resolved it
	past := time.Now().Add(-2 * time.Hour)
	store.SetClock(func() time.Time { return past })
	_, _, err := store.EnqueueItem(context.Background(), &notifications.QueueItem{
		ID:          "stale-1",
		Kind:        notifications.KindPersonal,
		Priority:    notifications.PriorityNormal,
		DedupKey:    "stale-1",
		MaxAttempts: 3,
	}, 0)
	require.NoError(t, err)
	claimed, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	store.SetClock(time.Now)

	scheduler := notifications.NewScheduler(notifications.DefaultSchedulerConfig(), store, registry)
	assert.True(t, scheduler.Tick(context.Background()))

	item, err := store.GetItem(context.Background(), "stale-1")
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusCompleted, item.Status)
	assert.Equal(t, int32(1), calls.Load())
}

type touchCounter struct {
	*memory.Store
	touches atomic.Int32
}

func (c *touchCounter) Touch(ctx context.Context, id string) error {
	c.touches.Add(1)
	return c.Store.Touch(ctx, id)
}

func TestScheduler_HeartbeatWhileHandlerRuns(t *testing.T) {
	repo := &touchCounter{Store: memory.NewStore()}
	registry := notifications.NewRegistry()
	registry.Register(notifications.KindPersonal, notifications.KindHandlerFunc(func(context.Context, *notifications.QueueItem) notifications.Outcome {
		time.Sleep(60 * time.Millisecond)
		return notifications.Success("ok")
	}))

	service := notifications.NewService(notifications.DefaultServiceConfig(), repo, repo)
	_, err := service.Enqueue(context.Background(), notifications.EnqueueInput{
		Kind:    notifications.KindPersonal,
		Payload: notifications.Payload{notifications.KeyUserID: "u-1"},
	})
	require.NoError(t, err)

	config := notifications.DefaultSchedulerConfig()
	config.HeartbeatInterval = 10 * time.Millisecond
	scheduler := notifications.NewScheduler(config, repo, registry)

	assert.True(t, scheduler.Tick(context.Background()))
	assert.GreaterOrEqual(t, repo.touches.Load(), int32(2))
}

func TestScheduler_StopWaitsForInFlightItem(t *testing.T) {
	config := notifications.DefaultSchedulerConfig()
	config.TickInterval = 5 * time.Millisecond
	f := newSchedulerFixture(t, config)

	started := make(chan struct{})
	var once sync.Once
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		return notifications.Success("ok")
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	f.scheduler.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not claim the item")
	}
	f.scheduler.Stop()

	assert.Equal(t, notifications.QueueStatusCompleted, f.item(t, id).Status)

	// no further ticks after Stop
	second := f.enqueue(t, notifications.KindPersonal, "u-2", "")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, notifications.QueueStatusPending, f.item(t, second).Status)
}

// cancelAwareStore refuses resolve writes on a cancelled context, the way a
// pgx pool does.
type cancelAwareStore struct {
	*memory.Store
}

func (s cancelAwareStore) MarkCompleted(ctx context.Context, id string, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.MarkCompleted(ctx, id, d)
}

func (s cancelAwareStore) MarkForRetry(ctx context.Context, id, reason string, next time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.MarkForRetry(ctx, id, reason, next)
}

func TestScheduler_CancelledStartContextLetsInFlightItemFinish(t *testing.T) {
	config := notifications.DefaultSchedulerConfig()
	config.TickInterval = 5 * time.Millisecond
	f := newSchedulerFixture(t, config)
	scheduler := notifications.NewScheduler(config, cancelAwareStore{f.store}, f.registry)

	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error
	f.handle(notifications.KindPersonal, func(ctx context.Context, _ *notifications.QueueItem) notifications.Outcome {
		close(started)
		<-release
		handlerErr = ctx.Err()
		return notifications.Success("ok")
	})
	id := f.enqueue(t, notifications.KindPersonal, "u-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	scheduler.Start(ctx)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not claim the item")
	}

	cancel()
	close(release)
	scheduler.Stop()

	assert.NoError(t, handlerErr)
	item := f.item(t, id)
	assert.Equal(t, notifications.QueueStatusCompleted, item.Status)
	assert.Zero(t, item.Attempts)
}

type retryFailingStore struct {
	*memory.Store
}

func (retryFailingStore) MarkForRetry(context.Context, string, string, time.Time) error {
	return errors.New("connection reset")
}

func TestScheduler_RetryWriteFailureIsNotReportedAsScheduled(t *testing.T) {
	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	f := newSchedulerFixture(t, notifications.DefaultSchedulerConfig())
	scheduler := notifications.NewScheduler(notifications.DefaultSchedulerConfig(), retryFailingStore{f.store}, f.registry)
	f.handle(notifications.KindPersonal, func(context.Context, *notifications.QueueItem) notifications.Outcome {
		return notifications.Retryable(errors.New("bad gateway"))
	})
	f.enqueue(t, notifications.KindPersonal, "u-1", "")

	assert.True(t, scheduler.Tick(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "failed to mark for retry")
	assert.NotContains(t, out, "notification scheduled for retry")
}

func TestRegistry(t *testing.T) {
	registry := notifications.NewRegistry()
	registry.Register(notifications.KindSold, notifications.KindHandlerFunc(func(context.Context, *notifications.QueueItem) notifications.Outcome {
		return notifications.Success("")
	}))
	registry.Register(notifications.KindBulk, notifications.KindHandlerFunc(func(context.Context, *notifications.QueueItem) notifications.Outcome {
		return notifications.Success("")
	}))

	_, ok := registry.Lookup(notifications.KindSold)
	assert.True(t, ok)
	_, ok = registry.Lookup(notifications.KindOrder)
	assert.False(t, ok)
	assert.Equal(t, []notifications.Kind{notifications.KindBulk, notifications.KindSold}, registry.Kinds())
}

func ExampleKindHandlerFunc() {
	h := notifications.KindHandlerFunc(func(_ context.Context, item *notifications.QueueItem) notifications.Outcome {
		return notifications.Success("sent-" + item.ID)
	})
	out := h.Handle(context.Background(), &notifications.QueueItem{ID: "42"})
	fmt.Println(out.Kind, out.MessageID)
	// Output: success sent-42
}
