package handlers

import (
	"context"
	"fmt"

	"github.com/bissquit/market-courier/internal/notifications"
)

// bulkHandler posts an admin broadcast to the channel or an explicit chat.
type bulkHandler struct{ *base }

func (h *bulkHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	text := item.Payload.String(notifications.KeyText)
	if text == "" {
		return notifications.NonRetryable(fmt.Errorf("%w: broadcast text is empty", notifications.ErrNotEligible))
	}

	chatID := item.Payload.String(notifications.KeyChatID)
	if chatID == "" {
		chatID = h.deps.ChannelChatID
	}

	return h.send(ctx, item, delivery{
		chatID:        chatID,
		recipientType: notifications.RecipientGroup,
		template:      "bulk",
		locale:        item.Payload.String(notifications.KeyLocale),
		media:         item.Payload.Strings(notifications.KeyMediaURLs),
		entityType:    "broadcast",
		entityID:      item.EntityID,
		view:          view{Text: text},
	})
}

// personalHandler sends a direct message to one user.
type personalHandler struct{ *base }

func (h *personalHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	text := item.Payload.String(notifications.KeyText)
	if text == "" {
		return notifications.NonRetryable(fmt.Errorf("%w: message text is empty", notifications.ErrNotEligible))
	}

	user, err := h.profile(ctx, item.Payload.String(notifications.KeyUserID))
	if err != nil {
		return failure(err)
	}

	return h.send(ctx, item, delivery{
		chatID:        user.TelegramChatID,
		recipientType: notifications.RecipientPersonal,
		template:      "personal",
		locale:        locale(item, user),
		media:         item.Payload.Strings(notifications.KeyMediaURLs),
		entityType:    "profile",
		entityID:      user.ID,
		view:          view{Text: text, Profile: user},
	})
}
