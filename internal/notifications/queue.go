package notifications

import "time"

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusDeadLetter QueueStatus = "dead_letter"
)

// IsValid checks if the queue status is valid.
func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted, QueueStatusDeadLetter:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusDeadLetter
}

// Kind is a logical notification type.
type Kind string

// Notification kinds.
const (
	KindProduct         Kind = "product"
	KindOrder           Kind = "order"
	KindPriceOffer      Kind = "price_offer"
	KindBulk            Kind = "bulk"
	KindPersonal        Kind = "personal"
	KindAdminNewProduct Kind = "admin_new_product"
	KindAdminNewUser    Kind = "admin_new_user"
	KindUserWelcome     Kind = "user_welcome"
	KindVerification    Kind = "verification"
	KindRepost          Kind = "repost"
	KindSold            Kind = "sold"
)

// AllKinds lists every supported kind.
var AllKinds = []Kind{
	KindProduct, KindOrder, KindPriceOffer, KindBulk, KindPersonal,
	KindAdminNewProduct, KindAdminNewUser, KindUserWelcome,
	KindVerification, KindRepost, KindSold,
}

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Privileged reports whether only service tokens may enqueue this kind.
func (k Kind) Privileged() bool {
	switch k {
	case KindBulk, KindAdminNewProduct, KindAdminNewUser:
		return true
	}
	return false
}

// MarksProduct reports whether enqueueing stamps the source product.
func (k Kind) MarksProduct() bool {
	return k == KindProduct || k == KindRepost || k == KindSold
}

// Priority is a scheduling hint. Lower rank is claimed first.
type Priority string

// Priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// IsValid checks if the priority is known.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank returns the storage order of the priority.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// PriorityFromRank converts a stored rank back to a priority.
func PriorityFromRank(rank int) Priority {
	switch rank {
	case 0:
		return PriorityHigh
	case 2:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// QueueItem represents a notification in the queue.
type QueueItem struct {
	ID               string      `json:"id"`
	Kind             Kind        `json:"kind"`
	Priority         Priority    `json:"priority"`
	Status           QueueStatus `json:"status"`
	Payload          Payload     `json:"payload"`
	DedupKey         string      `json:"dedup_key"`
	Subtype          string      `json:"subtype"`
	EntityID         string      `json:"entity_id"`
	Attempts         int         `json:"attempts"`
	MaxAttempts      int         `json:"max_attempts"`
	ScheduledFor     time.Time   `json:"scheduled_for"`
	LastError        string      `json:"last_error,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	ProcessedAt      *time.Time  `json:"processed_at,omitempty"`
	ProcessingTimeMS *int64      `json:"processing_time_ms,omitempty"`
}

// QueueStats contains queue size by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"dead_letter"`
}
