package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperpredict/predictd/internal/domain"
)

// RoundBetStore is the narrow read interface the archiver needs: the settled
// round's bets, page by page. The Postgres bet store satisfies it.
type RoundBetStore interface {
	ListRoundBets(ctx context.Context, instanceID string, epoch uint64, opts domain.ListOpts) ([]domain.ArchivedBet, error)
}

// RoundArchive is the cold-storage payload for one settled round.
type RoundArchive struct {
	InstanceID string              `json:"instance_id"`
	ArchivedAt time.Time           `json:"archived_at"`
	Round      *domain.Round       `json:"round"`
	Bets       []domain.ArchivedBet `json:"bets"`
}

// RoundArchiver serializes settled rounds with their bets and uploads them
// to object storage. Archives are additive; nothing is deleted from the
// primary store.
type RoundArchiver struct {
	writer domain.BlobWriter
	bets   RoundBetStore
}

// NewRoundArchiver creates a RoundArchiver writing through w.
func NewRoundArchiver(w domain.BlobWriter, bets RoundBetStore) *RoundArchiver {
	return &RoundArchiver{writer: w, bets: bets}
}

// ArchiveRound uploads one settled round as JSON under
// "rounds/{instanceID}/{epoch}.json".
func (a *RoundArchiver) ArchiveRound(ctx context.Context, instanceID string, round *domain.Round) error {
	archive := RoundArchive{
		InstanceID: instanceID,
		ArchivedAt: time.Now().UTC(),
		Round:      round,
	}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		page, err := a.bets.ListRoundBets(ctx, instanceID, round.Epoch, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("s3blob: archive round %s/%d: list bets: %w", instanceID, round.Epoch, err)
		}
		archive.Bets = append(archive.Bets, page...)
		if len(page) < pageSize {
			break
		}
	}

	payload, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("s3blob: archive round %s/%d: marshal: %w", instanceID, round.Epoch, err)
	}

	path := fmt.Sprintf("rounds/%s/%d.json", instanceID, round.Epoch)
	if err := a.writer.Put(ctx, path, bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive round %s/%d: %w", instanceID, round.Epoch, err)
	}
	return nil
}
