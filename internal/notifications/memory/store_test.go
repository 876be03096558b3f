package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(entity string, priority notifications.Priority, created time.Time) *notifications.QueueItem {
	return &notifications.QueueItem{
		Kind:        notifications.KindOrder,
		Subtype:     "status",
		EntityID:    entity,
		Priority:    priority,
		Payload:     notifications.Payload{"orderId": entity},
		DedupKey:    "key-" + entity,
		MaxAttempts: 3,
		CreatedAt:   created,
	}
}

func TestStore_EnqueueItem_Dedup(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	id, inserted, err := store.EnqueueItem(ctx, newItem("o1", notifications.PriorityNormal, now), time.Minute)
	require.NoError(t, err)
	assert.True(t, inserted)

	again, inserted, err := store.EnqueueItem(ctx, newItem("o1", notifications.PriorityNormal, now), time.Minute)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, again)

	other := newItem("o1", notifications.PriorityNormal, now)
	other.DedupKey = "another-bucket"
	byLookback, inserted, err := store.EnqueueItem(ctx, other, time.Minute)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, byLookback)

	_, inserted, err = store.EnqueueItem(ctx, other, 0)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestStore_ClaimNext_Order(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	_, _, err := store.EnqueueItem(ctx, newItem("low", notifications.PriorityLow, base), 0)
	require.NoError(t, err)
	_, _, err = store.EnqueueItem(ctx, newItem("normal-late", notifications.PriorityNormal, base.Add(2*time.Second)), 0)
	require.NoError(t, err)
	_, _, err = store.EnqueueItem(ctx, newItem("normal-early", notifications.PriorityNormal, base.Add(time.Second)), 0)
	require.NoError(t, err)
	_, _, err = store.EnqueueItem(ctx, newItem("high", notifications.PriorityHigh, base.Add(3*time.Second)), 0)
	require.NoError(t, err)

	var order []string
	for {
		item, err := store.ClaimNext(ctx)
		require.NoError(t, err)
		if item == nil {
			break
		}
		assert.Equal(t, notifications.QueueStatusProcessing, item.Status)
		order = append(order, item.EntityID)
	}
	assert.Equal(t, []string{"high", "normal-early", "normal-late", "low"}, order)
}

func TestStore_ClaimNext_SkipsFutureItems(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	item := newItem("o1", notifications.PriorityNormal, time.Now())
	item.ScheduledFor = time.Now().Add(time.Hour)
	_, _, err := store.EnqueueItem(ctx, item, 0)
	require.NoError(t, err)

	claimed, err := store.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStore_ClaimNext_Concurrent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	const total = 50
	for i := 0; i < total; i++ {
		_, _, err := store.EnqueueItem(ctx, newItem(fmt.Sprintf("o%d", i), notifications.PriorityNormal, past), 0)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := store.ClaimNext(ctx)
				if err != nil || item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "item %s claimed more than once", id)
	}
}

func TestStore_Transitions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	id, _, err := store.EnqueueItem(ctx, newItem("o1", notifications.PriorityNormal, now.Add(-time.Second)), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, store.MarkCompleted(ctx, id, time.Millisecond), notifications.ErrItemNotProcessing)
	assert.ErrorIs(t, store.MarkCompleted(ctx, "missing", time.Millisecond), notifications.ErrItemNotFound)

	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkRateLimited(ctx, id, "429", now.Add(time.Second)))

	item, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
	assert.Zero(t, item.Attempts)

	store.SetClock(func() time.Time { return now.Add(2 * time.Second) })
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkForRetry(ctx, id, "boom", now.Add(3*time.Second)))

	item, err = store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "boom", item.LastError)

	store.SetClock(func() time.Time { return now.Add(4 * time.Second) })
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, id, 15*time.Millisecond))

	item, err = store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusCompleted, item.Status)
	require.NotNil(t, item.ProcessingTimeMS)
	assert.Equal(t, int64(15), *item.ProcessingTimeMS)
	assert.Empty(t, item.LastError)
}

func TestStore_RequeueStale(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	id, _, err := store.EnqueueItem(ctx, newItem("o1", notifications.PriorityNormal, now.Add(-time.Minute)), 0)
	require.NoError(t, err)
	_, err = store.ClaimNext(ctx)
	require.NoError(t, err)

	n, err := store.RequeueStale(ctx, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.RequeueStale(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	item, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
}

func TestStore_ProductMarker(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	store.PutProduct(domain.Product{ID: "p1", Status: domain.ProductStatusActive})

	claimed, err := store.MarkProductPending(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.MarkProductPending(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = store.MarkProductPending(ctx, "missing")
	assert.ErrorIs(t, err, notifications.ErrEntityNotFound)

	at := time.Now()
	require.NoError(t, store.MarkProductNotified(ctx, "p1", at))
	claimed, err = store.MarkProductPending(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	id, _, err := store.EnqueueItem(ctx, newItem("o1", notifications.PriorityNormal, time.Now()), 0)
	require.NoError(t, err)

	item, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	item.Payload["orderId"] = "changed"
	item.Status = notifications.QueueStatusDeadLetter

	fresh, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "o1", fresh.Payload.String("orderId"))
	assert.Equal(t, notifications.QueueStatusPending, fresh.Status)
}
