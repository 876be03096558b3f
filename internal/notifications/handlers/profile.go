package handlers

import (
	"context"

	"github.com/bissquit/market-courier/internal/notifications"
)

type adminUserHandler struct{ *base }

func (h *adminUserHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	user, err := h.profile(ctx, item.Payload.String(notifications.KeyUserID))
	if err != nil {
		return failure(err)
	}

	return h.send(ctx, item, delivery{
		chatID:        h.deps.AdminChatID,
		recipientType: notifications.RecipientGroup,
		template:      "admin_new_user",
		locale:        item.Payload.String(notifications.KeyLocale),
		entityType:    "profile",
		entityID:      user.ID,
		view:          view{Profile: user},
	})
}

type welcomeHandler struct{ *base }

func (h *welcomeHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	user, err := h.profile(ctx, item.Payload.String(notifications.KeyUserID))
	if err != nil {
		return failure(err)
	}

	return h.send(ctx, item, delivery{
		chatID:        user.TelegramChatID,
		recipientType: notifications.RecipientPersonal,
		template:      "user_welcome",
		locale:        locale(item, user),
		entityType:    "profile",
		entityID:      user.ID,
		view:          view{Profile: user},
	})
}

// verificationHandler reports verification decisions to the user.
type verificationHandler struct{ *base }

func (h *verificationHandler) Handle(ctx context.Context, item *notifications.QueueItem) notifications.Outcome {
	user, err := h.profile(ctx, item.Payload.String(notifications.KeyUserID))
	if err != nil {
		return failure(err)
	}

	status := item.Payload.String(notifications.KeyStatus)
	if status == "" {
		status = string(user.Verification)
	}

	return h.send(ctx, item, delivery{
		chatID:        user.TelegramChatID,
		recipientType: notifications.RecipientPersonal,
		template:      "verification",
		locale:        locale(item, user),
		entityType:    "profile",
		entityID:      user.ID,
		view: view{
			Status:  status,
			Text:    item.Payload.String(notifications.KeyText),
			Profile: user,
		},
	})
}
