package notifications

import "context"

// RecipientType tells a personal chat from a group or channel.
type RecipientType string

// Recipient types.
const (
	RecipientPersonal RecipientType = "personal"
	RecipientGroup    RecipientType = "group"
)

// Message is a provider-ready notification.
type Message struct {
	ChatID        string
	Text          string
	MediaURLs     []string
	RecipientType RecipientType

	// Audit context
	QueueItemID string
	EntityType  string
	EntityID    string
}

// Sender delivers messages to the messaging provider.
type Sender interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}
