package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jfeld/orderdesk/internal/store"
)

type NotificationQueue struct {
	db *sql.DB
}

func NewNotificationQueue(db *sql.DB) *NotificationQueue {
	return &NotificationQueue{db: db}
}

func (q *NotificationQueue) Enqueue(ctx context.Context, n *store.Notification) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO notifications (order_id, body, prev_status, new_status, status,
			attempt_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,NOW(),NOW())
		RETURNING id`,
		n.OrderID, n.Body, n.PrevStatus, n.NewStatus, store.QueuePending,
	).Scan(&n.ID)
	if err != nil {
		return transient("enqueue notification", err)
	}
	return nil
}

func (q *NotificationQueue) Pending(ctx context.Context, limit, maxAttempts int, now time.Time) ([]*store.Notification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, body, prev_status, new_status, status,
			attempt_count, next_attempt_at, created_at, updated_at
		FROM notifications
		WHERE status IN ($1, $2)
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $3)
		  AND attempt_count < $4
		ORDER BY id
		LIMIT $5`,
		store.QueuePending, store.QueueFailed, now, maxAttempts, limit)
	if err != nil {
		return nil, transient("pending notifications", err)
	}
	defer rows.Close()

	var res []*store.Notification
	for rows.Next() {
		n := &store.Notification{}
		var nextAttempt sql.NullTime
		err := rows.Scan(&n.ID, &n.OrderID, &n.Body, &n.PrevStatus, &n.NewStatus,
			&n.Status, &n.AttemptCount, &nextAttempt, &n.CreatedAt, &n.UpdatedAt)
		if err != nil {
			return nil, transient("scan notification", err)
		}
		if nextAttempt.Valid {
			n.NextAttemptAt = nextAttempt.Time
		}
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("pending notifications", err)
	}
	return res, nil
}

func (q *NotificationQueue) MarkDone(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1`, id); err != nil {
		return transient("delete notification", err)
	}
	return nil
}

func (q *NotificationQueue) MarkFailed(ctx context.Context, id int64, attempts int, status store.QueueStatus, nextAttempt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE notifications
		SET status=$1, attempt_count=$2, next_attempt_at=$3, updated_at=NOW()
		WHERE id=$4`,
		status, attempts, nextAttempt, id)
	if err != nil {
		return transient("mark notification failed", err)
	}
	return nil
}
