// Package memory provides an in-process implementation of the notification
// repositories for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/google/uuid"
)

// Store is a mutex-guarded store for queue items, entities and delivery logs.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	items    map[string]*notifications.QueueItem
	dedup    map[string]string
	products map[string]*domain.Product
	profiles map[string]*domain.Profile
	orders   map[string]*domain.Order
	logs     []notifications.DeliveryLogEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		now:      time.Now,
		items:    make(map[string]*notifications.QueueItem),
		dedup:    make(map[string]string),
		products: make(map[string]*domain.Product),
		profiles: make(map[string]*domain.Profile),
		orders:   make(map[string]*domain.Order),
	}
}

// SetClock replaces the store clock.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

var (
	_ notifications.QueueRepository  = (*Store)(nil)
	_ notifications.EntityRepository = (*Store)(nil)
	_ notifications.AuditRepository  = (*Store)(nil)
)

// EnqueueItem inserts item unless a duplicate exists.
func (s *Store) EnqueueItem(_ context.Context, item *notifications.QueueItem, lookback time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.dedup[item.DedupKey]; ok {
		return id, false, nil
	}

	if lookback > 0 {
		since := s.now().Add(-lookback)
		var newest *notifications.QueueItem
		for _, existing := range s.items {
			if existing.Kind != item.Kind || existing.Subtype != item.Subtype || existing.EntityID != item.EntityID {
				continue
			}
			if existing.CreatedAt.Before(since) {
				continue
			}
			if newest == nil || existing.CreatedAt.After(newest.CreatedAt) {
				newest = existing
			}
		}
		if newest != nil {
			return newest.ID, false, nil
		}
	}

	stored := cloneItem(item)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	if stored.ScheduledFor.IsZero() {
		stored.ScheduledFor = stored.CreatedAt
	}
	stored.Status = notifications.QueueStatusPending

	s.items[stored.ID] = stored
	s.dedup[stored.DedupKey] = stored.ID
	return stored.ID, true, nil
}

// FindActiveItem returns the newest pending or processing item for identity.
func (s *Store) FindActiveItem(_ context.Context, identity notifications.Identity) (*notifications.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *notifications.QueueItem
	for _, item := range s.items {
		if item.Kind != identity.Kind || item.Subtype != identity.Subtype || item.EntityID != identity.EntityID {
			continue
		}
		if item.Status != notifications.QueueStatusPending && item.Status != notifications.QueueStatusProcessing {
			continue
		}
		if newest == nil || item.CreatedAt.After(newest.CreatedAt) {
			newest = item
		}
	}
	if newest == nil {
		return nil, nil
	}
	return cloneItem(newest), nil
}

// ClaimNext moves the next eligible item to processing.
func (s *Store) ClaimNext(_ context.Context) (*notifications.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *notifications.QueueItem
	for _, item := range s.items {
		if item.Status != notifications.QueueStatusPending || item.ScheduledFor.After(now) {
			continue
		}
		if next == nil || less(item, next) {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}

	next.Status = notifications.QueueStatusProcessing
	next.UpdatedAt = now
	return cloneItem(next), nil
}

func less(a, b *notifications.QueueItem) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Touch bumps updated_at of a processing item.
func (s *Store) Touch(_ context.Context, id string) error {
	return s.resolve(id, func(item *notifications.QueueItem, _ time.Time) {})
}

// MarkCompleted marks a processing item as completed.
func (s *Store) MarkCompleted(_ context.Context, id string, processingTime time.Duration) error {
	return s.resolve(id, func(item *notifications.QueueItem, now time.Time) {
		ms := processingTime.Milliseconds()
		item.Status = notifications.QueueStatusCompleted
		item.ProcessedAt = &now
		item.ProcessingTimeMS = &ms
		item.LastError = ""
	})
}

// MarkRateLimited returns the item to pending without counting an attempt.
func (s *Store) MarkRateLimited(_ context.Context, id, reason string, retryAt time.Time) error {
	return s.resolve(id, func(item *notifications.QueueItem, _ time.Time) {
		item.Status = notifications.QueueStatusPending
		item.ScheduledFor = retryAt
		item.LastError = reason
	})
}

// MarkForRetry counts a failed attempt and reschedules the item.
func (s *Store) MarkForRetry(_ context.Context, id, reason string, nextAttempt time.Time) error {
	return s.resolve(id, func(item *notifications.QueueItem, _ time.Time) {
		item.Status = notifications.QueueStatusPending
		item.Attempts++
		item.ScheduledFor = nextAttempt
		item.LastError = reason
	})
}

// MarkDeadLetter counts the final attempt and parks the item.
func (s *Store) MarkDeadLetter(_ context.Context, id, reason string) error {
	return s.resolve(id, func(item *notifications.QueueItem, now time.Time) {
		item.Status = notifications.QueueStatusDeadLetter
		item.Attempts++
		item.LastError = reason
		item.ProcessedAt = &now
	})
}

func (s *Store) resolve(id string, apply func(item *notifications.QueueItem, now time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return notifications.ErrItemNotFound
	}
	if item.Status != notifications.QueueStatusProcessing {
		return notifications.ErrItemNotProcessing
	}

	now := s.now()
	apply(item, now)
	item.UpdatedAt = now
	return nil
}

// RequeueStale resets items stuck in processing.
func (s *Store) RequeueStale(_ context.Context, staleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for _, item := range s.items {
		if item.Status == notifications.QueueStatusProcessing && item.UpdatedAt.Before(staleBefore) {
			item.Status = notifications.QueueStatusPending
			item.UpdatedAt = now
			item.LastError = "requeued after stale processing"
			n++
		}
	}
	return n, nil
}

// GetItem returns a queue item by id.
func (s *Store) GetItem(_ context.Context, id string) (*notifications.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, notifications.ErrItemNotFound
	}
	return cloneItem(item), nil
}

// ListItems returns the newest items, optionally filtered by status.
func (s *Store) ListItems(_ context.Context, status notifications.QueueStatus, limit int) ([]*notifications.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]*notifications.QueueItem, 0)
	for _, item := range s.items {
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, cloneItem(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetQueueStats returns item counts by status.
func (s *Store) GetQueueStats(_ context.Context) (*notifications.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &notifications.QueueStats{}
	for _, item := range s.items {
		switch item.Status {
		case notifications.QueueStatusPending:
			stats.Pending++
		case notifications.QueueStatusProcessing:
			stats.Processing++
		case notifications.QueueStatusCompleted:
			stats.Completed++
		case notifications.QueueStatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func cloneItem(item *notifications.QueueItem) *notifications.QueueItem {
	c := *item
	c.Payload = item.Payload.Clone()
	if item.ProcessedAt != nil {
		t := *item.ProcessedAt
		c.ProcessedAt = &t
	}
	if item.ProcessingTimeMS != nil {
		ms := *item.ProcessingTimeMS
		c.ProcessingTimeMS = &ms
	}
	return &c
}
