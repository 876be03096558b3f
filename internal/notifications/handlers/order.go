package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
)

// orderHandler notifies the seller about new orders and the buyer about
// every later status change.
type orderHandler struct{ *base }

func (h *orderHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	orderID := item.Payload.String(notifications.KeyOrderID)
	if orderID == "" {
		return notifications.NonRetryable(fmt.Errorf("%w: orderId", notifications.ErrMissingEntity))
	}

	order, err := h.deps.Entities.GetOrder(ctx, orderID)
	if err != nil {
		return failure(fmt.Errorf("get order %s: %w", orderID, err))
	}

	// the product only adds a title, an order for a removed listing still goes out
	product, err := h.deps.Entities.GetProduct(ctx, order.ProductID)
	if err != nil && !errors.Is(err, notifications.ErrEntityNotFound) {
		return failure(fmt.Errorf("get product %s: %w", order.ProductID, err))
	}

	recipientID, template := order.BuyerID, "order_status"
	if order.Status == domain.OrderStatusCreated {
		recipientID, template = order.SellerID, "order_created"
	}

	recipient, err := h.profile(ctx, recipientID)
	if err != nil {
		return failure(err)
	}

	v := view{Subtype: item.Subtype, Status: string(order.Status), Order: order, Product: product}
	if order.Status == domain.OrderStatusCreated {
		v.Buyer = h.optionalProfile(ctx, order.BuyerID)
	}

	return h.send(ctx, item, delivery{
		chatID:        recipient.TelegramChatID,
		recipientType: notifications.RecipientPersonal,
		template:      template,
		locale:        locale(item, recipient),
		entityType:    "order",
		entityID:      order.ID,
		view:          v,
	})
}
