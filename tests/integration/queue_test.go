//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/market-courier/internal/notifications"
	notificationspostgres "github.com/bissquit/market-courier/internal/notifications/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueueItem(entityID string, priority notifications.Priority) *notifications.QueueItem {
	identity := notifications.Identity{Kind: notifications.KindOrder, Subtype: "status", EntityID: entityID}
	return &notifications.QueueItem{
		ID:          uuid.NewString(),
		Kind:        identity.Kind,
		Priority:    priority,
		Payload:     notifications.Payload{"orderId": entityID},
		DedupKey:    notifications.DedupKey(identity, time.Now(), time.Second),
		Subtype:     identity.Subtype,
		EntityID:    identity.EntityID,
		MaxAttempts: 3,
	}
}

func TestQueue_ClaimOrder(t *testing.T) {
	resetQueue(t)
	ctx := context.Background()
	repo := notificationspostgres.NewRepository(testDB)

	for _, tc := range []struct {
		entity   string
		priority notifications.Priority
	}{
		{"low", notifications.PriorityLow},
		{"normal-1", notifications.PriorityNormal},
		{"high", notifications.PriorityHigh},
		{"normal-2", notifications.PriorityNormal},
	} {
		_, created, err := repo.EnqueueItem(ctx, newQueueItem(tc.entity, tc.priority), 0)
		require.NoError(t, err)
		require.True(t, created)
		// created_at comes from the database clock; keep insert order visible.
		time.Sleep(5 * time.Millisecond)
	}

	var order []string
	for {
		item, err := repo.ClaimNext(ctx)
		require.NoError(t, err)
		if item == nil {
			break
		}
		assert.Equal(t, notifications.QueueStatusProcessing, item.Status)
		order = append(order, item.EntityID)
	}
	assert.Equal(t, []string{"high", "normal-1", "normal-2", "low"}, order)
}

func TestQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	resetQueue(t)
	ctx := context.Background()
	repo := notificationspostgres.NewRepository(testDB)

	const total = 40
	for i := 0; i < total; i++ {
		_, _, err := repo.EnqueueItem(ctx, newQueueItem(fmt.Sprintf("claim-%d", i), notifications.PriorityNormal), 0)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := repo.ClaimNext(ctx)
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
		assert.Equal(t, 1, n, "item %s claimed %d times", id, n)
	}
}

func TestQueue_ConcurrentEnqueueDeduplicates(t *testing.T) {
	resetQueue(t)
	ctx := context.Background()
	repo := notificationspostgres.NewRepository(testDB)

	const producers = 12
	ids := make([]string, producers)
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := newQueueItem("same-order", notifications.PriorityNormal)
			// Different buckets so only the look-back under the advisory lock can catch them.
			item.DedupKey = fmt.Sprintf("bucket-%d", i)
			id, _, err := repo.EnqueueItem(ctx, item, time.Minute)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var count int
	require.NoError(t, testDB.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_queue WHERE entity_id = 'same-order'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestQueue_DedupKeyConflict(t *testing.T) {
	resetQueue(t)
	ctx := context.Background()
	repo := notificationspostgres.NewRepository(testDB)

	first := newQueueItem("o-conflict", notifications.PriorityNormal)
	id, created, err := repo.EnqueueItem(ctx, first, 0)
	require.NoError(t, err)
	require.True(t, created)

	second := newQueueItem("o-conflict", notifications.PriorityNormal)
	second.DedupKey = first.DedupKey
	again, created, err := repo.EnqueueItem(ctx, second, 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)
}

func TestQueue_Transitions(t *testing.T) {
	resetQueue(t)
	ctx := context.Background()
	repo := notificationspostgres.NewRepository(testDB)

	id, _, err := repo.EnqueueItem(ctx, newQueueItem("o-transitions", notifications.PriorityNormal), 0)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.MarkCompleted(ctx, id, time.Millisecond), notifications.ErrItemNotProcessing)
	assert.ErrorIs(t, repo.MarkCompleted(ctx, uuid.NewString(), time.Millisecond), notifications.ErrItemNotFound)

	_, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkRateLimited(ctx, id, "telegram rate limit", time.Now().Add(-time.Second)))

	item, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
	assert.Zero(t, item.Attempts)

	_, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkForRetry(ctx, id, "boom", time.Now().Add(-time.Second)))

	item, err = repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, "boom", item.LastError)

	_, err = repo.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.MarkDeadLetter(ctx, id, "gave up"))

	item, err = repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusDeadLetter, item.Status)
	assert.Equal(t, 2, item.Attempts)
	assert.NotNil(t, item.ProcessedAt)

	claimed, err := repo.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestQueue_RequeueStale(t *testing.T) {
	resetQueue(t)
	ctx := context.Background()
	repo := notificationspostgres.NewRepository(testDB)

	id, _, err := repo.EnqueueItem(ctx, newQueueItem("o-stale", notifications.PriorityNormal), 0)
	require.NoError(t, err)
	_, err = repo.ClaimNext(ctx)
	require.NoError(t, err)

	n, err := repo.RequeueStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.Touch(ctx, id))

	n, err = repo.RequeueStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	item, err := repo.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, notifications.QueueStatusPending, item.Status)
}

func TestQueue_GetItemUnknownID(t *testing.T) {
	repo := notificationspostgres.NewRepository(testDB)

	_, err := repo.GetItem(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, notifications.ErrItemNotFound)

	_, err = repo.GetItem(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, notifications.ErrItemNotFound)
}
