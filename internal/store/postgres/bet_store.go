package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hyperpredict/predictd/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// UpsertBet inserts or updates one bet record.
func (s *BetStore) UpsertBet(ctx context.Context, instanceID string, epoch uint64, user common.Address, b *domain.BetInfo) error {
	const query = `
		INSERT INTO bets (instance_id, epoch, user_addr, position, amount, claimed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (instance_id, epoch, user_addr) DO UPDATE SET
			position   = EXCLUDED.position,
			amount     = EXCLUDED.amount,
			claimed    = EXCLUDED.claimed,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		instanceID, int64(epoch), user.Hex(),
		b.Position.String(), b.Amount.String(), b.Claimed,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet %s/%d/%s: %w", instanceID, epoch, user.Hex(), err)
	}
	return nil
}

// ListUserBets returns the user's bets on an instance ordered by ascending
// epoch, the same order the in-memory participation index uses.
func (s *BetStore) ListUserBets(ctx context.Context, instanceID string, user common.Address, opts domain.ListOpts) ([]*domain.UserRound, error) {
	const query = `
		SELECT epoch, position, amount::TEXT, claimed
		FROM bets
		WHERE instance_id = $1 AND user_addr = $2
		ORDER BY epoch ASC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, instanceID, user.Hex(), normalizeLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets %s/%s: %w", instanceID, user.Hex(), err)
	}
	defer rows.Close()

	var bets []*domain.UserRound
	for rows.Next() {
		var (
			epoch    int64
			position string
			amount   string
			claimed  bool
		)
		if err := rows.Scan(&epoch, &position, &amount, &claimed); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		pos, err := domain.ParsePosition(position)
		if err != nil {
			return nil, fmt.Errorf("postgres: bet %s/%d: %w", instanceID, epoch, err)
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: parse amount %q", amount)
		}
		bets = append(bets, &domain.UserRound{
			Epoch: uint64(epoch),
			Bet:   domain.BetInfo{Position: pos, Amount: value, Claimed: claimed},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets %s/%s: %w", instanceID, user.Hex(), err)
	}
	return bets, nil
}

// ListRoundBets returns every bet of one round ordered by user address, for
// the round archiver.
func (s *BetStore) ListRoundBets(ctx context.Context, instanceID string, epoch uint64, opts domain.ListOpts) ([]domain.ArchivedBet, error) {
	const query = `
		SELECT user_addr, position, amount::TEXT, claimed
		FROM bets
		WHERE instance_id = $1 AND epoch = $2
		ORDER BY user_addr ASC
		LIMIT $3 OFFSET $4`

	rows, err := s.pool.Query(ctx, query, instanceID, int64(epoch), normalizeLimit(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list round bets %s/%d: %w", instanceID, epoch, err)
	}
	defer rows.Close()

	var bets []domain.ArchivedBet
	for rows.Next() {
		var (
			userAddr string
			position string
			amount   string
			claimed  bool
		)
		if err := rows.Scan(&userAddr, &position, &amount, &claimed); err != nil {
			return nil, fmt.Errorf("postgres: scan round bet: %w", err)
		}
		pos, err := domain.ParsePosition(position)
		if err != nil {
			return nil, fmt.Errorf("postgres: round bet %s/%d: %w", instanceID, epoch, err)
		}
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: parse amount %q", amount)
		}
		bets = append(bets, domain.ArchivedBet{
			User: common.HexToAddress(userAddr),
			Bet:  domain.BetInfo{Position: pos, Amount: value, Claimed: claimed},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list round bets %s/%d: %w", instanceID, epoch, err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
