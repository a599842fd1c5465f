package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/hyperpredict/predictd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each feed's
// latest point is stored at key "price:{feedID}" with fields "price",
// "publish_time", and "round_id".
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(feedID string) string {
	return "price:" + feedID
}

// Set stores the latest price point for a feed.
func (pc *PriceCache) Set(ctx context.Context, feedID string, p domain.PricePoint) error {
	fields := map[string]interface{}{
		"price":        strconv.FormatInt(p.Price, 10),
		"publish_time": strconv.FormatInt(p.PublishTime, 10),
		"round_id":     strconv.FormatUint(p.RoundID, 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(feedID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", feedID, err)
	}
	return nil
}

// Get retrieves the latest price point for a feed. It returns
// domain.ErrNotFound when no point was ever cached.
func (pc *PriceCache) Get(ctx context.Context, feedID string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(feedID)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}

	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse price %s: %w", feedID, err)
	}
	publishTime, err := strconv.ParseInt(vals["publish_time"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse publish time %s: %w", feedID, err)
	}
	roundID, err := strconv.ParseUint(vals["round_id"], 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse round id %s: %w", feedID, err)
	}

	return domain.PricePoint{Price: price, PublishTime: publishTime, RoundID: roundID}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
