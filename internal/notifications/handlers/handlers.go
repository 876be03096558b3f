// Package handlers implements the per-kind notification handlers: each
// resolves its entities, picks the recipient, renders the text and sends it.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/bissquit/market-courier/internal/pkg/ctxlog"
)

// DefaultRepostCooldown is the minimum time between two announcements of a product.
const DefaultRepostCooldown = 72 * time.Hour

// Deps holds handler collaborators.
type Deps struct {
	Entities notifications.EntityRepository
	Sender   notifications.Sender
	Renderer *Renderer

	// ChannelChatID is the public channel for product announcements.
	ChannelChatID string
	// AdminChatID receives moderation notifications.
	AdminChatID string

	RepostCooldown time.Duration
	Now            func() time.Time
}

// RegisterAll registers a handler for every notification kind.
func RegisterAll(registry *notifications.Registry, deps Deps) error {
	if deps.Entities == nil || deps.Sender == nil {
		return errors.New("handlers: entities and sender are required")
	}
	if deps.Renderer == nil {
		r, err := NewRenderer()
		if err != nil {
			return fmt.Errorf("handlers: %w", err)
		}
		deps.Renderer = r
	}
	if deps.RepostCooldown <= 0 {
		deps.RepostCooldown = DefaultRepostCooldown
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	b := &base{deps: deps}

	registry.Register(notifications.KindProduct, &productHandler{b})
	registry.Register(notifications.KindRepost, &repostHandler{b})
	registry.Register(notifications.KindSold, &soldHandler{b})
	registry.Register(notifications.KindAdminNewProduct, &adminProductHandler{b})
	registry.Register(notifications.KindOrder, &orderHandler{b})
	registry.Register(notifications.KindPriceOffer, &offerHandler{b})
	registry.Register(notifications.KindBulk, &bulkHandler{b})
	registry.Register(notifications.KindPersonal, &personalHandler{b})
	registry.Register(notifications.KindAdminNewUser, &adminUserHandler{b})
	registry.Register(notifications.KindUserWelcome, &welcomeHandler{b})
	registry.Register(notifications.KindVerification, &verificationHandler{b})

	return nil
}

// view is the data passed to templates.
type view struct {
	Subtype  string
	Status   string
	Text     string
	Amount   int64
	Currency string

	Product *domain.Product
	Order   *domain.Order
	Profile *domain.Profile
	Buyer   *domain.Profile
	Seller  *domain.Profile
}

// base carries helpers shared by all handlers.
type base struct {
	deps Deps
}

// delivery is a rendered message ready to send.
type delivery struct {
	chatID        string
	recipientType notifications.RecipientType
	template      string
	locale        string
	media         []string
	entityType    string
	entityID      string
	view          view
}

func (b *base) send(ctx context.Context, item *notifications.QueueItem, d delivery) notifications.Outcome {
	if d.chatID == "" {
		return notifications.NonRetryable(fmt.Errorf("%w: recipient has no telegram chat", notifications.ErrNotEligible))
	}

	text, err := b.deps.Renderer.Render(d.template, d.locale, d.view)
	if err != nil {
		return notifications.NonRetryable(fmt.Errorf("render %s: %w", d.template, err))
	}

	messageID, err := b.deps.Sender.Send(ctx, notifications.Message{
		ChatID:        d.chatID,
		Text:          text,
		MediaURLs:     d.media,
		RecipientType: d.recipientType,
		QueueItemID:   item.ID,
		EntityType:    d.entityType,
		EntityID:      d.entityID,
	})
	return notifications.OutcomeFromError(messageID, err)
}

// markNotified stamps the product after a successful announcement.
// A failed stamp is logged; the message is already out.
func (b *base) markNotified(ctx context.Context, item *notifications.QueueItem, productID string, outcome notifications.Outcome) notifications.Outcome {
	if outcome.Kind != notifications.OutcomeSuccess {
		return outcome
	}
	if err := b.deps.Entities.MarkProductNotified(ctx, productID, b.deps.Now()); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to stamp product as notified",
			"item_id", item.ID,
			"product_id", productID,
			"error", err,
		)
	}
	return outcome
}

func (b *base) product(ctx context.Context, item *notifications.QueueItem) (*domain.Product, error) {
	id := item.Payload.String(notifications.KeyProductID)
	if id == "" {
		return nil, fmt.Errorf("%w: productId", notifications.ErrMissingEntity)
	}
	p, err := b.deps.Entities.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (b *base) profile(ctx context.Context, id string) (*domain.Profile, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: userId", notifications.ErrMissingEntity)
	}
	p, err := b.deps.Entities.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	return p, nil
}

// optionalProfile returns nil when the profile cannot be loaded.
func (b *base) optionalProfile(ctx context.Context, id string) *domain.Profile {
	if id == "" {
		return nil
	}
	p, err := b.deps.Entities.GetProfile(ctx, id)
	if err != nil {
		return nil
	}
	return p
}

// locale picks the payload override or the recipient's stored locale.
func locale(item *notifications.QueueItem, recipient *domain.Profile) string {
	if l := item.Payload.String(notifications.KeyLocale); l != "" {
		return l
	}
	if recipient != nil {
		return recipient.Locale
	}
	return ""
}

func failure(err error) notifications.Outcome {
	if errors.Is(err, notifications.ErrMissingEntity) {
		return notifications.NonRetryable(err)
	}
	return notifications.OutcomeFromError("", err)
}
