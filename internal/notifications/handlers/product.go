package handlers

import (
	"context"
	"fmt"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
)

const subtypeActive = "active"

// productHandler announces active products to the channel and tells sellers
// about moderation results.
type productHandler struct{ *base }

func (h *productHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	product, err := h.product(ctx, item)
	if err != nil {
		return failure(err)
	}

	subtype := item.Subtype
	if subtype == "" {
		subtype = subtypeActive
	}

	if subtype == subtypeActive {
		if product.Status != domain.ProductStatusActive {
			return notifications.NonRetryable(fmt.Errorf("%w: product %s is %s", notifications.ErrNotEligible, product.ID, product.Status))
		}
		outcome := h.send(ctx, item, delivery{
			chatID:        h.deps.ChannelChatID,
			recipientType: notifications.RecipientGroup,
			template:      "product_active",
			locale:        item.Payload.String(notifications.KeyLocale),
			media:         product.Images,
			entityType:    "product",
			entityID:      product.ID,
			view:          view{Subtype: subtype, Product: product},
		})
		return h.markNotified(ctx, item, product.ID, outcome)
	}

	seller, err := h.profile(ctx, product.OwnerID)
	if err != nil {
		return failure(err)
	}

	outcome := h.send(ctx, item, delivery{
		chatID:        seller.TelegramChatID,
		recipientType: notifications.RecipientPersonal,
		template:      "product_status",
		locale:        locale(item, seller),
		entityType:    "product",
		entityID:      product.ID,
		view: view{
			Subtype: subtype,
			Text:    item.Payload.String(notifications.KeyText),
			Product: product,
			Seller:  seller,
		},
	})
	// moderation results are private, the channel cooldown is untouched
	return outcome
}

// repostHandler re-announces a product once the cooldown has passed.
type repostHandler struct{ *base }

func (h *repostHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	product, err := h.product(ctx, item)
	if err != nil {
		return failure(err)
	}

	if product.Status != domain.ProductStatusActive {
		return notifications.NonRetryable(fmt.Errorf("%w: product %s is %s", notifications.ErrNotEligible, product.ID, product.Status))
	}
	if product.NotifiedWithin(h.deps.Now(), h.deps.RepostCooldown) {
		return notifications.NonRetryable(fmt.Errorf("%w: product %s was announced at %s",
			notifications.ErrCooldownActive, product.ID, product.LastNotifiedAt.UTC().Format("2006-01-02T15:04:05Z")))
	}

	outcome := h.send(ctx, item, delivery{
		chatID:        h.deps.ChannelChatID,
		recipientType: notifications.RecipientGroup,
		template:      "repost",
		locale:        item.Payload.String(notifications.KeyLocale),
		media:         product.Images,
		entityType:    "product",
		entityID:      product.ID,
		view:          view{Subtype: "repost", Product: product},
	})
	return h.markNotified(ctx, item, product.ID, outcome)
}

// soldHandler tells the channel that a product is gone.
type soldHandler struct{ *base }

func (h *soldHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	product, err := h.product(ctx, item)
	if err != nil {
		return failure(err)
	}

	var media []string
	if len(product.Images) > 0 {
		media = product.Images[:1]
	}

	outcome := h.send(ctx, item, delivery{
		chatID:        h.deps.ChannelChatID,
		recipientType: notifications.RecipientGroup,
		template:      "sold",
		locale:        item.Payload.String(notifications.KeyLocale),
		media:         media,
		entityType:    "product",
		entityID:      product.ID,
		view:          view{Subtype: "sold", Product: product},
	})
	return h.markNotified(ctx, item, product.ID, outcome)
}

// adminProductHandler sends new listings to the moderation chat.
type adminProductHandler struct{ *base }

func (h *adminProductHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	product, err := h.product(ctx, item)
	if err != nil {
		return failure(err)
	}

	return h.send(ctx, item, delivery{
		chatID:        h.deps.AdminChatID,
		recipientType: notifications.RecipientGroup,
		template:      "admin_new_product",
		locale:        item.Payload.String(notifications.KeyLocale),
		media:         product.Images,
		entityType:    "product",
		entityID:      product.ID,
		view: view{
			Product: product,
			Seller:  h.optionalProfile(ctx, product.OwnerID),
		},
	})
}
