package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/pkg/models"
)

type OrderStore struct {
	db *sql.DB
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

const orderColumns = `id, requester_id, fulfiller_id, total, special_instructions,
	shipping_address, payment_instructions, status, created_at, updated_at`

func (s *OrderStore) Create(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("begin create order", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.RequesterID, o.FulfillerID, o.Total, o.SpecialInstructions,
		o.ShippingAddress, o.PaymentInstructions, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return transient("insert order", err)
	}

	for i, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, name, unit_price, assignee)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, i, item.Name, item.UnitPrice, item.Assignee,
		)
		if err != nil {
			return transient("insert order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return transient("commit create order", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, transient("get order", err)
	}
	if err := s.loadItems(ctx, s.db, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *OrderStore) List(ctx context.Context, f store.OrderFilter) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var filters []string
	var args []interface{}
	idx := 1
	if f.ID != "" {
		filters = append(filters, fmt.Sprintf("id=$%d", idx))
		args = append(args, f.ID)
		idx++
	}
	if f.RequesterID != "" {
		filters = append(filters, fmt.Sprintf("requester_id=$%d", idx))
		args = append(args, f.RequesterID)
		idx++
	}
	if f.FulfillerID != "" {
		filters = append(filters, fmt.Sprintf("fulfiller_id=$%d", idx))
		args = append(args, f.FulfillerID)
		idx++
	}
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, transient("list orders", err)
	}
	defer rows.Close()

	var res []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, transient("scan order", err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("list orders", err)
	}
	for _, o := range res {
		if err := s.loadItems(ctx, s.db, o); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Mutate locks the order row, applies fn to the current state and
// writes the result back, all in one transaction. fn errors abort the
// transaction untouched and pass through unclassified.
func (s *OrderStore) Mutate(ctx context.Context, id string, fn func(o *models.Order) error) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, transient("begin mutate order", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, transient("lock order", err)
	}
	if err := s.loadItems(ctx, tx, o); err != nil {
		return nil, err
	}

	if err := fn(o); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET status=$1, payment_instructions=$2,
			shipping_address=$3, updated_at=$4
		WHERE id=$5`,
		o.Status, o.PaymentInstructions, o.ShippingAddress, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return nil, transient("update order", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, transient("commit mutate order", err)
	}
	return o, nil
}

func (s *OrderStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return transient("delete order", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(
		&o.ID, &o.RequesterID, &o.FulfillerID, &o.Total, &o.SpecialInstructions,
		&o.ShippingAddress, &o.PaymentInstructions, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *OrderStore) loadItems(ctx context.Context, q querier, o *models.Order) error {
	rows, err := q.QueryContext(ctx, `
		SELECT name, unit_price, assignee FROM order_items
		WHERE order_id=$1 ORDER BY position`, o.ID)
	if err != nil {
		return transient("load order items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item models.LineItem
		if err := rows.Scan(&item.Name, &item.UnitPrice, &item.Assignee); err != nil {
			return transient("scan order item", err)
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return transient("load order items", err)
	}
	return nil
}
