// Package ledger implements the per-instance round and bet book: round
// records keyed by epoch, cumulative bet entries keyed by epoch and user, and
// an append-only per-user epoch index supporting cursor pagination. The book
// performs no synchronization of its own; the owning engine serializes every
// access behind its state-machine lock.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hyperpredict/predictd/internal/domain"
)

// Book is the authoritative in-memory store of one engine instance. Rounds
// are never deleted; the user index is append-only.
type Book struct {
	rounds    map[uint64]*domain.Round
	bets      map[uint64]map[common.Address]*domain.BetInfo
	userIndex map[common.Address][]uint64
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		rounds:    make(map[uint64]*domain.Round),
		bets:      make(map[uint64]map[common.Address]*domain.BetInfo),
		userIndex: make(map[common.Address][]uint64),
	}
}

// CreateRound inserts a fresh round for epoch starting at startTime.
func (b *Book) CreateRound(epoch uint64, startTime, intervalSeconds int64) *domain.Round {
	r := domain.NewRound(epoch, startTime, intervalSeconds)
	b.rounds[epoch] = r
	return r
}

// Round returns the round for epoch, or nil when it was never started.
func (b *Book) Round(epoch uint64) *domain.Round {
	return b.rounds[epoch]
}

// Bet returns the user's bet entry for epoch, or nil.
func (b *Book) Bet(epoch uint64, user common.Address) *domain.BetInfo {
	entries, ok := b.bets[epoch]
	if !ok {
		return nil
	}
	return entries[user]
}

// AddStake records amount on the user's position for epoch, creating the
// entry and appending the epoch to the user's index on their first bet of
// that epoch. It enforces the one-position-per-epoch rule and keeps the
// round's side and total aggregates in sync.
func (b *Book) AddStake(epoch uint64, user common.Address, pos domain.Position, amount *big.Int) error {
	round, ok := b.rounds[epoch]
	if !ok {
		return domain.ErrRoundNotStarted
	}

	entries, ok := b.bets[epoch]
	if !ok {
		entries = make(map[common.Address]*domain.BetInfo)
		b.bets[epoch] = entries
	}

	entry, ok := entries[user]
	if !ok {
		entries[user] = &domain.BetInfo{
			Position: pos,
			Amount:   new(big.Int).Set(amount),
		}
		b.userIndex[user] = append(b.userIndex[user], epoch)
		round.AddStake(pos, amount)
		return nil
	}

	if entry.Position != pos {
		return domain.ErrPositionConflict
	}
	entry.Amount.Add(entry.Amount, amount)
	round.AddStake(pos, amount)
	return nil
}

// UserRounds returns up to size epochs from the user's index starting at
// cursor, together with the bet entries and the next cursor. The result is
// deterministic for a given (cursor, size) until new bets are appended; past
// the end it returns an empty page and the cursor unchanged.
func (b *Book) UserRounds(user common.Address, cursor, size uint64) ([]domain.UserRound, uint64) {
	index := b.userIndex[user]
	length := uint64(len(index))
	if cursor >= length || size == 0 {
		return []domain.UserRound{}, cursor
	}

	end := cursor + size
	if end > length || end < cursor { // cap, and guard uint64 wraparound
		end = length
	}

	page := make([]domain.UserRound, 0, end-cursor)
	for _, epoch := range index[cursor:end] {
		entry := b.Bet(epoch, user)
		page = append(page, domain.UserRound{Epoch: epoch, Bet: *entry.Clone()})
	}
	return page, end
}

// UserRoundsLength returns the number of epochs the user participated in.
func (b *Book) UserRoundsLength(user common.Address) uint64 {
	return uint64(len(b.userIndex[user]))
}
