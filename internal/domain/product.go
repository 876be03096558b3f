package domain

import "time"

// ProductStatus represents the moderation/sale status of a listing.
type ProductStatus string

// Product statuses.
const (
	ProductStatusDraft      ProductStatus = "draft"
	ProductStatusModeration ProductStatus = "moderation"
	ProductStatusActive     ProductStatus = "active"
	ProductStatusRejected   ProductStatus = "rejected"
	ProductStatusSold       ProductStatus = "sold"
	ProductStatusArchived   ProductStatus = "archived"
)

// Product notification markers stored on the listing.
const (
	ProductNotificationPending = "pending"
	ProductNotificationSent    = "sent"
)

// Product is a marketplace listing.
// Only the fields notifications need are mapped.
type Product struct {
	ID                 string
	OwnerID            string
	Title              string
	Description        string
	Price              int64
	Currency           string
	City               string
	Images             []string
	Status             ProductStatus
	NotificationStatus string
	LastNotifiedAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NotifiedWithin reports whether the product was announced less than d ago.
func (p *Product) NotifiedWithin(now time.Time, d time.Duration) bool {
	if p.LastNotifiedAt == nil {
		return false
	}
	return now.Sub(*p.LastNotifiedAt) < d
}
