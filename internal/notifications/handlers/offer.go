package handlers

import (
	"context"

	"github.com/bissquit/market-courier/internal/notifications"
)

// offerHandler routes price offer events: new offers and counter offers go
// to the seller, decisions go to the buyer.
type offerHandler struct{ *base }

func (h *offerHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	product, err := h.product(ctx, item)
	if err != nil {
		return failure(err)
	}

	buyerID := item.Payload.String(notifications.KeyBuyerID)
	subtype := item.Subtype
	if subtype == "" {
		subtype = "new"
	}

	var (
		recipientID string
		template    string
	)
	switch subtype {
	case "accepted", "rejected":
		recipientID, template = buyerID, "price_offer_"+subtype
	case "counter":
		recipientID, template = product.OwnerID, "price_offer_counter"
	default:
		recipientID, template = product.OwnerID, "price_offer_new"
	}

	recipient, err := h.profile(ctx, recipientID)
	if err != nil {
		return failure(err)
	}

	amount, ok := item.Payload.Int64(notifications.KeyAmount)
	if !ok {
		amount = product.Price
	}
	currency := item.Payload.String(notifications.KeyCurrency)
	if currency == "" {
		currency = product.Currency
	}

	entityID := product.ID + ":" + buyerID
	if offerID := item.Payload.String(notifications.KeyOfferID); offerID != "" {
		entityID = offerID
	}

	return h.send(ctx, item, delivery{
		chatID:        recipient.TelegramChatID,
		recipientType: notifications.RecipientPersonal,
		template:      template,
		locale:        locale(item, recipient),
		entityType:    "price_offer",
		entityID:      entityID,
		view: view{
			Subtype:  subtype,
			Amount:   amount,
			Currency: currency,
			Product:  product,
			Buyer:    h.optionalProfile(ctx, buyerID),
		},
	})
}
