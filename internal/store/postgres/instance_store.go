package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperpredict/predictd/internal/domain"
)

// InstanceStore persists the registry's instance records.
type InstanceStore struct {
	pool *pgxpool.Pool
}

// NewInstanceStore creates an InstanceStore backed by the given pool.
func NewInstanceStore(pool *pgxpool.Pool) *InstanceStore {
	return &InstanceStore{pool: pool}
}

// UpsertInstance inserts or updates one instance record.
func (s *InstanceStore) UpsertInstance(ctx context.Context, info domain.InstanceInfo) error {
	const query = `
		INSERT INTO instances (id, symbol, price_feed_id, address, operator, interval_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			operator = EXCLUDED.operator`

	_, err := s.pool.Exec(ctx, query,
		info.ID, info.Symbol, info.PriceFeedID,
		info.Address.Hex(), info.Operator.Hex(), info.IntervalSeconds,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert instance %s: %w", info.ID, err)
	}
	return nil
}

// ListInstances returns every instance in creation order.
func (s *InstanceStore) ListInstances(ctx context.Context) ([]domain.InstanceInfo, error) {
	const query = `
		SELECT id, symbol, price_feed_id, address, operator, interval_seconds
		FROM instances
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instances: %w", err)
	}
	defer rows.Close()

	var infos []domain.InstanceInfo
	for rows.Next() {
		var (
			info     domain.InstanceInfo
			address  string
			operator string
		)
		if err := rows.Scan(&info.ID, &info.Symbol, &info.PriceFeedID, &address, &operator, &info.IntervalSeconds); err != nil {
			return nil, fmt.Errorf("postgres: scan instance: %w", err)
		}
		info.Address = common.HexToAddress(address)
		info.Operator = common.HexToAddress(operator)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list instances: %w", err)
	}
	return infos, nil
}
