package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperpredict/predictd/internal/domain"
)

// RoundStore implements domain.RoundStore using PostgreSQL. Amounts are
// stored as NUMERIC(78,0) and round-tripped through strings to preserve
// arbitrary precision.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// UpsertRound inserts or updates one round record.
func (s *RoundStore) UpsertRound(ctx context.Context, instanceID string, r *domain.Round) error {
	const query = `
		INSERT INTO rounds (
			instance_id, epoch, start_time, lock_time, close_time,
			lock_price, close_price,
			total_amount, bull_amount, bear_amount,
			reward_base_cal_amount, reward_amount, referral_amount,
			resolved, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10,
			$11, $12, $13,
			$14, NOW()
		)
		ON CONFLICT (instance_id, epoch) DO UPDATE SET
			lock_price             = EXCLUDED.lock_price,
			close_price            = EXCLUDED.close_price,
			total_amount           = EXCLUDED.total_amount,
			bull_amount            = EXCLUDED.bull_amount,
			bear_amount            = EXCLUDED.bear_amount,
			reward_base_cal_amount = EXCLUDED.reward_base_cal_amount,
			reward_amount          = EXCLUDED.reward_amount,
			referral_amount        = EXCLUDED.referral_amount,
			resolved               = EXCLUDED.resolved,
			updated_at             = NOW()`

	_, err := s.pool.Exec(ctx, query,
		instanceID, int64(r.Epoch), r.StartTime, r.LockTime, r.CloseTime,
		r.LockPrice, r.ClosePrice,
		r.TotalAmount.String(), r.BullAmount.String(), r.BearAmount.String(),
		r.RewardBaseCalAmount.String(), r.RewardAmount.String(), r.ReferralAmount.String(),
		r.Resolved,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert round %s/%d: %w", instanceID, r.Epoch, err)
	}
	return nil
}

// GetRound returns one round record, or domain.ErrNotFound.
func (s *RoundStore) GetRound(ctx context.Context, instanceID string, epoch uint64) (*domain.Round, error) {
	const query = `
		SELECT epoch, start_time, lock_time, close_time,
		       lock_price, close_price,
		       total_amount::TEXT, bull_amount::TEXT, bear_amount::TEXT,
		       reward_base_cal_amount::TEXT, reward_amount::TEXT, referral_amount::TEXT,
		       resolved
		FROM rounds
		WHERE instance_id = $1 AND epoch = $2`

	r, err := scanRound(s.pool.QueryRow(ctx, query, instanceID, int64(epoch)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get round %s/%d: %w", instanceID, epoch, err)
	}
	return r, nil
}

// ListRounds returns the instance's rounds ordered by descending epoch.
func (s *RoundStore) ListRounds(ctx context.Context, instanceID string, opts domain.ListOpts) ([]*domain.Round, error) {
	const query = `
		SELECT epoch, start_time, lock_time, close_time,
		       lock_price, close_price,
		       total_amount::TEXT, bull_amount::TEXT, bear_amount::TEXT,
		       reward_base_cal_amount::TEXT, reward_amount::TEXT, referral_amount::TEXT,
		       resolved
		FROM rounds
		WHERE instance_id = $1
		ORDER BY epoch DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, instanceID, normalizeLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds %s: %w", instanceID, err)
	}
	defer rows.Close()

	var rounds []*domain.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rounds %s: %w", instanceID, err)
	}
	return rounds, nil
}

func scanRound(row pgx.Row) (*domain.Round, error) {
	var (
		r     domain.Round
		epoch int64
		total, bull, bear, base, reward, referral string
	)
	err := row.Scan(
		&epoch, &r.StartTime, &r.LockTime, &r.CloseTime,
		&r.LockPrice, &r.ClosePrice,
		&total, &bull, &bear,
		&base, &reward, &referral,
		&r.Resolved,
	)
	if err != nil {
		return nil, err
	}
	r.Epoch = uint64(epoch)

	for _, field := range []struct {
		dst **big.Int
		raw string
	}{
		{&r.TotalAmount, total},
		{&r.BullAmount, bull},
		{&r.BearAmount, bear},
		{&r.RewardBaseCalAmount, base},
		{&r.RewardAmount, reward},
		{&r.ReferralAmount, referral},
	} {
		v, ok := new(big.Int).SetString(field.raw, 10)
		if !ok {
			return nil, fmt.Errorf("parse amount %q", field.raw)
		}
		*field.dst = v
	}
	return &r, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

// Compile-time interface check.
var _ domain.RoundStore = (*RoundStore)(nil)
