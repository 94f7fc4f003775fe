package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderStore is a read-only view over the order service's orders table.
type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

func (s *OrderStore) OrderOwner(ctx context.Context, orderID string) (uuid.UUID, bool, error) {
	query := `SELECT client_id FROM orders WHERE id = $1`

	var owner uuid.UUID
	err := s.pool.QueryRow(ctx, query, orderID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("get order owner: %w", err)
	}
	return owner, true, nil
}

func (s *OrderStore) OrdersOwnedBy(ctx context.Context, clientID uuid.UUID) ([]string, error) {
	query := `SELECT id FROM orders WHERE client_id = $1`

	rows, err := s.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("list client orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect client orders: %w", err)
	}
	return ids, nil
}
