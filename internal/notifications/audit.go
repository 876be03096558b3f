package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DeliveryStatus is the recorded result of one send attempt.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryPending DeliveryStatus = "pending"
)

// DeliveryLogEntry is an append-only record of a send attempt.
type DeliveryLogEntry struct {
	ID                string         `json:"id"`
	QueueItemID       string         `json:"queue_item_id,omitempty"`
	Recipient         string         `json:"recipient"`
	RecipientType     RecipientType  `json:"recipient_type"`
	MessageText       string         `json:"message_text"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Status            DeliveryStatus `json:"status"`
	Error             string         `json:"error,omitempty"`
	EntityType        string         `json:"entity_type,omitempty"`
	EntityID          string         `json:"entity_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

const auditWriteTimeout = 5 * time.Second

// AuditLogger writes delivery log entries in the background.
// Write failures are logged and counted but never surface to callers.
type AuditLogger struct {
	repo    AuditRepository
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAuditLogger creates an audit logger backed by repo.
func NewAuditLogger(repo AuditRepository) *AuditLogger {
	return &AuditLogger{repo: repo, timeout: auditWriteTimeout}
}

// Record schedules entry for writing and returns immediately.
func (a *AuditLogger) Record(entry DeliveryLogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.repo.InsertDeliveryLog(ctx, &entry); err != nil {
			recordAuditFailure()
			slog.Warn("failed to write delivery log",
				"item_id", entry.QueueItemID,
				"status", entry.Status,
				"error", err,
			)
		}
	}()
}

// Close waits for in-flight writes.
func (a *AuditLogger) Close() {
	a.wg.Wait()
}

// AuditedSender records every Send attempt of the wrapped sender.
type AuditedSender struct {
	next  Sender
	audit *AuditLogger
}

// NewAuditedSender wraps next with delivery logging.
func NewAuditedSender(next Sender, audit *AuditLogger) *AuditedSender {
	return &AuditedSender{next: next, audit: audit}
}

// Send delivers msg and records the result.
func (s *AuditedSender) Send(ctx context.Context, msg Message) (string, error) {
	messageID, err := s.next.Send(ctx, msg)

	entry := DeliveryLogEntry{
		QueueItemID:       msg.QueueItemID,
		Recipient:         msg.ChatID,
		RecipientType:     msg.RecipientType,
		MessageText:       msg.Text,
		ProviderMessageID: messageID,
		Status:            DeliverySuccess,
		EntityType:        msg.EntityType,
		EntityID:          msg.EntityID,
	}
	if err != nil {
		entry.Status = DeliveryFailed
		entry.Error = err.Error()
		if OutcomeFromError("", err).Kind == OutcomeRateLimited {
			entry.Status = DeliveryPending
		}
	}

	s.audit.Record(entry)
	return messageID, err
}
