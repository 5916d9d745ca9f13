package postgres

import (
	"context"
	"database/sql"

	"github.com/jfeld/orderdesk/pkg/models"
)

type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append inserts the message and reads back the seq assigned by the
// bigserial column. The database serializes inserts, so log order is
// decided here, not by client arrival order.
func (s *MessageStore) Append(ctx context.Context, m *models.Message) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, order_id, sender_id, sender_role, type, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING seq`,
		m.ID, m.OrderID, m.SenderID, m.SenderRole, m.Type, m.Body, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return transient("append message", err)
	}
	return nil
}

func (s *MessageStore) List(ctx context.Context, orderID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, sender_id, sender_role, type, body, seq, created_at
		FROM messages WHERE order_id=$1
		ORDER BY created_at, seq`, orderID)
	if err != nil {
		return nil, transient("list messages", err)
	}
	defer rows.Close()

	var res []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.ID, &m.OrderID, &m.SenderID, &m.SenderRole,
			&m.Type, &m.Body, &m.Seq, &m.CreatedAt)
		if err != nil {
			return nil, transient("scan message", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list messages", err)
	}
	return res, nil
}
