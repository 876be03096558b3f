// Package postgres provides PostgreSQL implementation of notifications repositories.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements the notifications repositories using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

var (
	_ notifications.QueueRepository  = (*Repository)(nil)
	_ notifications.EntityRepository = (*Repository)(nil)
	_ notifications.AuditRepository  = (*Repository)(nil)
)

const queueColumns = `id, kind, priority, status, payload, dedup_key, subtype, entity_id,
	attempts, max_attempts, scheduled_for, COALESCE(last_error, ''),
	created_at, updated_at, processed_at, processing_time_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*notifications.QueueItem, error) {
	var (
		item     notifications.QueueItem
		priority int16
	)
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&priority,
		&item.Status,
		&item.Payload,
		&item.DedupKey,
		&item.Subtype,
		&item.EntityID,
		&item.Attempts,
		&item.MaxAttempts,
		&item.ScheduledFor,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.ProcessedAt,
		&item.ProcessingTimeMS,
	)
	if err != nil {
		return nil, err
	}
	item.Priority = notifications.PriorityFromRank(int(priority))
	return &item, nil
}

// EnqueueItem inserts item unless a duplicate exists.
// The look-back check and the insert run in one transaction under an
// advisory lock keyed by the item identity.
func (r *Repository) EnqueueItem(ctx context.Context, item *notifications.QueueItem, lookback time.Duration) (string, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	identity := notifications.Identity{Kind: item.Kind, Subtype: item.Subtype, EntityID: item.EntityID}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, identity.String()); err != nil {
		return "", false, fmt.Errorf("acquire identity lock: %w", err)
	}

	var existingID string
	if lookback > 0 {
		lookbackQuery := `
			SELECT id FROM notification_queue
			WHERE kind = $1 AND subtype = $2 AND entity_id = $3
			  AND created_at >= NOW() - make_interval(secs => $4)
			ORDER BY created_at DESC
			LIMIT 1
		`
		err := tx.QueryRow(ctx, lookbackQuery, item.Kind, item.Subtype, item.EntityID, lookback.Seconds()).Scan(&existingID)
		if err == nil {
			return existingID, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", false, fmt.Errorf("look back for duplicates: %w", err)
		}
	}

	insertQuery := `
		INSERT INTO notification_queue
			(id, kind, priority, status, payload, dedup_key, subtype, entity_id, max_attempts, scheduled_for)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`
	var scheduledFor *time.Time
	if !item.ScheduledFor.IsZero() {
		scheduledFor = &item.ScheduledFor
	}

	var id string
	err = tx.QueryRow(ctx, insertQuery,
		item.ID,
		item.Kind,
		item.Priority.Rank(),
		item.Payload,
		item.DedupKey,
		item.Subtype,
		item.EntityID,
		item.MaxAttempts,
		scheduledFor,
	).Scan(&id)
	created := true
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		err = tx.QueryRow(ctx, `SELECT id FROM notification_queue WHERE dedup_key = $1`, item.DedupKey).Scan(&id)
	}
	if err != nil {
		return "", false, fmt.Errorf("insert queue item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("commit transaction: %w", err)
	}
	return id, created, nil
}

// FindActiveItem returns the newest pending or processing item for identity.
func (r *Repository) FindActiveItem(ctx context.Context, identity notifications.Identity) (*notifications.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM notification_queue
		WHERE kind = $1 AND subtype = $2 AND entity_id = $3
		  AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`
	item, err := scanItem(r.db.QueryRow(ctx, query, identity.Kind, identity.Subtype, identity.EntityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active item: %w", err)
	}
	return item, nil
}

// ClaimNext atomically claims the next eligible pending item.
func (r *Repository) ClaimNext(ctx context.Context) (*notifications.QueueItem, error) {
	query := `
		UPDATE notification_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id = (
			SELECT id FROM notification_queue
			WHERE status = 'pending' AND scheduled_for <= NOW()
			ORDER BY priority, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns
	item, err := scanItem(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next item: %w", err)
	}
	return item, nil
}

// Touch bumps updated_at of a processing item.
func (r *Repository) Touch(ctx context.Context, id string) error {
	query := `UPDATE notification_queue SET updated_at = NOW() WHERE id = $1 AND status = 'processing'`
	return r.execResolve(ctx, "touch", query, id)
}

// MarkCompleted marks a processing item as completed.
func (r *Repository) MarkCompleted(ctx context.Context, id string, processingTime time.Duration) error {
	query := `
		UPDATE notification_queue
		SET status = 'completed', processed_at = NOW(), processing_time_ms = $2,
		    last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return r.execResolve(ctx, "mark completed", query, id, processingTime.Milliseconds())
}

// MarkRateLimited returns the item to pending without counting an attempt.
func (r *Repository) MarkRateLimited(ctx context.Context, id, reason string, retryAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', scheduled_for = $3, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return r.execResolve(ctx, "mark rate limited", query, id, reason, retryAt)
}

// MarkForRetry counts a failed attempt and reschedules the item.
func (r *Repository) MarkForRetry(ctx context.Context, id, reason string, nextAttempt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = 'pending', attempts = attempts + 1, scheduled_for = $3,
		    last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return r.execResolve(ctx, "mark for retry", query, id, reason, nextAttempt)
}

// MarkDeadLetter counts the final attempt and parks the item.
func (r *Repository) MarkDeadLetter(ctx context.Context, id, reason string) error {
	query := `
		UPDATE notification_queue
		SET status = 'dead_letter', attempts = attempts + 1, last_error = $2,
		    processed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return r.execResolve(ctx, "mark dead letter", query, id, reason)
}

func (r *Repository) execResolve(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM notification_queue WHERE id = $1)`, args[0]).Scan(&exists); err != nil {
		return fmt.Errorf("%s: check item: %w", op, err)
	}
	if !exists {
		return notifications.ErrItemNotFound
	}
	return notifications.ErrItemNotProcessing
}

// RequeueStale resets items stuck in processing.
func (r *Repository) RequeueStale(ctx context.Context, staleBefore time.Time) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = 'pending', last_error = 'requeued after stale processing', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	result, err := r.db.Exec(ctx, query, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("requeue stale items: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetItem returns a queue item by id.
func (r *Repository) GetItem(ctx context.Context, id string) (*notifications.QueueItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notifications.ErrItemNotFound
	}
	query := `SELECT ` + queueColumns + ` FROM notification_queue WHERE id = $1`
	item, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrItemNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// ListItems returns the newest items, optionally filtered by status.
func (r *Repository) ListItems(ctx context.Context, status notifications.QueueStatus, limit int) ([]*notifications.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM notification_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]*notifications.QueueItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

// GetQueueStats returns item counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'dead_letter')
		FROM notification_queue
	`
	var stats notifications.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}
