package memory

import (
	"context"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
)

// PutProduct stores a copy of p.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutProfile stores a copy of p.
func (s *Store) PutProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = &p
}

// PutOrder stores a copy of o.
func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = &o
}

// GetProduct returns a product by id.
func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, notifications.ErrEntityNotFound
	}
	c := *p
	c.Images = append([]string(nil), p.Images...)
	return &c, nil
}

// GetProfile returns a profile by id.
func (s *Store) GetProfile(_ context.Context, id string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, notifications.ErrEntityNotFound
	}
	c := *p
	return &c, nil
}

// GetOrder returns an order by id.
func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, notifications.ErrEntityNotFound
	}
	c := *o
	return &c, nil
}

// MarkProductPending sets the pending marker unless it is already set.
func (s *Store) MarkProductPending(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return false, notifications.ErrEntityNotFound
	}
	if p.NotificationStatus == domain.ProductNotificationPending {
		return false, nil
	}
	p.NotificationStatus = domain.ProductNotificationPending
	p.UpdatedAt = s.now()
	return true, nil
}

// MarkProductNotified records a successful announcement.
func (s *Store) MarkProductNotified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return notifications.ErrEntityNotFound
	}
	p.NotificationStatus = domain.ProductNotificationSent
	p.LastNotifiedAt = &at
	p.UpdatedAt = s.now()
	return nil
}

// InsertDeliveryLog appends a delivery log entry.
func (s *Store) InsertDeliveryLog(_ context.Context, entry *notifications.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

// DeliveryLogs returns a copy of all recorded entries.
func (s *Store) DeliveryLogs() []notifications.DeliveryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.DeliveryLogEntry(nil), s.logs...)
}
