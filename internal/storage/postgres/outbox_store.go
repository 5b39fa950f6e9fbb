package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unnati-rahatwal/Techvanza/internal/storage"
)

type NotificationOutboxItem struct {
	ID            int64
	Channel       string
	Recipient     string
	Body          string
	ListingID     string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
}

func (s *Store) EnqueueNotifications(ctx context.Context, items []storage.Notification) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
INSERT INTO notification_outbox (channel, recipient, body, listing_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', NOW(), NOW())
`, it.Channel, it.Recipient, it.Body, it.ListingID)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range items {
		if _, err := br.Exec(); err != nil {
			return i, fmt.Errorf("enqueue notification %d: %w", i, err)
		}
	}
	return len(items), nil
}

func (s *Store) FetchPendingOutbox(ctx context.Context, limit int) ([]NotificationOutboxItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, channel, recipient, body, listing_id, status, attempts, COALESCE(last_error,''), next_attempt_at, created_at
FROM notification_outbox
WHERE status = 'pending'
  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
ORDER BY created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]NotificationOutboxItem, 0)
	for rows.Next() {
		var item NotificationOutboxItem
		var next *time.Time
		if err := rows.Scan(&item.ID, &item.Channel, &item.Recipient, &item.Body, &item.ListingID, &item.Status,
			&item.Attempts, &item.LastError, &next, &item.CreatedAt); err != nil {
			return nil, err
		}
		if next != nil {
			t := next.UTC()
			item.NextAttemptAt = &t
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) MarkOutboxSent(ctx context.Context, id int64, providerRef string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE notification_outbox
SET status = 'sent',
    last_error = NULL,
    next_attempt_at = NULL,
    sent_at = NOW(),
    provider_ref = $2,
    updated_at = NOW()
WHERE id = $1
`, id, providerRef)
	return err
}

func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, attempts int, nextAttempt time.Time, lastError string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE notification_outbox
SET status = 'pending',
    attempts = $2,
    last_error = $3,
    next_attempt_at = $4,
    updated_at = NOW()
WHERE id = $1
`, id, attempts, lastError, nextAttempt.UTC())
	return err
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE notification_outbox
SET status = 'failed',
    attempts = $2,
    last_error = $3,
    next_attempt_at = NULL,
    updated_at = NOW()
WHERE id = $1
`, id, attempts, lastError)
	return err
}
