package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CourierLogStore is the append-only audit trail of courier interactions.
type CourierLogStore struct {
	pool *pgxpool.Pool
}

func NewCourierLogStore(pool *pgxpool.Pool) *CourierLogStore {
	return &CourierLogStore{pool: pool}
}

func (s *CourierLogStore) Append(ctx context.Context, orderID *int64, action CourierAction, payload []byte) (*CourierLog, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	entry := &CourierLog{
		OrderID:    orderID,
		Action:     action,
		RawPayload: payload,
	}

	var order pgtype.Int8
	if orderID != nil {
		order = pgtype.Int8{Int64: *orderID, Valid: true}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO courier_logs (order_id, action, raw_payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, order, action, payload).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *CourierLogStore) ListByOrder(ctx context.Context, orderID int64) ([]CourierLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, action, raw_payload, created_at
		FROM courier_logs
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []CourierLog
	for rows.Next() {
		var (
			entry CourierLog
			order pgtype.Int8
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &order, &entry.Action, &raw, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if order.Valid {
			id := order.Int64
			entry.OrderID = &id
		}
		entry.RawPayload = raw
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
