package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/jackc/pgx/v5"
)

// GetProduct retrieves a product by ID.
func (r *Repository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	query := `
		SELECT id, owner_id, title, COALESCE(description, ''), price, currency, COALESCE(city, ''),
		       COALESCE(images, '{}'), status, COALESCE(notification_status, ''), last_notified_at,
		       created_at, updated_at
		FROM products
		WHERE id = $1
	`
	var p domain.Product
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Description,
		&p.Price,
		&p.Currency,
		&p.City,
		&p.Images,
		&p.Status,
		&p.NotificationStatus,
		&p.LastNotifiedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEntityNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// GetProfile retrieves a profile by ID.
func (r *Repository) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	query := `
		SELECT id, COALESCE(display_name, ''), COALESCE(username, ''), COALESCE(telegram_chat_id, ''),
		       COALESCE(locale, ''), COALESCE(verification_status, 'none'), created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	var p domain.Profile
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.Username,
		&p.TelegramChatID,
		&p.Locale,
		&p.Verification,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEntityNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// GetOrder retrieves an order by ID.
func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT id, product_id, buyer_id, seller_id, status, amount, currency, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	var o domain.Order
	err := r.db.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.ProductID,
		&o.BuyerID,
		&o.SellerID,
		&o.Status,
		&o.Amount,
		&o.Currency,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrEntityNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// MarkProductPending sets the pending marker unless it is already set.
func (r *Repository) MarkProductPending(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE products
		SET notification_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND notification_status IS DISTINCT FROM 'pending'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark product pending: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check product: %w", err)
	}
	if !exists {
		return false, notifications.ErrEntityNotFound
	}
	return false, nil
}

// MarkProductNotified records a successful announcement and clears the marker.
func (r *Repository) MarkProductNotified(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE products
		SET notification_status = 'sent', last_notified_at = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark product notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrEntityNotFound
	}
	return nil
}

// InsertDeliveryLog appends a delivery log entry.
func (r *Repository) InsertDeliveryLog(ctx context.Context, entry *notifications.DeliveryLogEntry) error {
	query := `
		INSERT INTO delivery_logs
			(queue_item_id, recipient, recipient_type, message_text, provider_message_id,
			 status, error, entity_type, entity_id, created_at)
		VALUES (NULLIF($1, '')::uuid, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		entry.QueueItemID,
		entry.Recipient,
		entry.RecipientType,
		entry.MessageText,
		entry.ProviderMessageID,
		entry.Status,
		entry.Error,
		entry.EntityType,
		entry.EntityID,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}
