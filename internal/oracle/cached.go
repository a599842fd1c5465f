package oracle

import (
	"context"
	"log/slog"

	"github.com/hyperpredict/predictd/internal/domain"
)

// CachedOracle decorates a PriceOracle with a shared cache. Reads from the
// upstream are written through; a failed upstream read falls back to the
// cached point so transitions can still judge staleness against the cached
// publish time instead of failing outright.
type CachedOracle struct {
	upstream domain.PriceOracle
	cache    domain.PriceCache
	logger   *slog.Logger
}

// NewCachedOracle wraps upstream with cache.
func NewCachedOracle(upstream domain.PriceOracle, cache domain.PriceCache, logger *slog.Logger) *CachedOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedOracle{
		upstream: upstream,
		cache:    cache,
		logger:   logger.With(slog.String("component", "oracle")),
	}
}

// LatestPrice reads upstream and writes the point through the cache. On
// upstream failure it serves the cached point when one exists.
func (c *CachedOracle) LatestPrice(ctx context.Context, feedID string) (domain.PricePoint, error) {
	point, err := c.upstream.LatestPrice(ctx, feedID)
	if err == nil {
		if cacheErr := c.cache.Set(ctx, feedID, point); cacheErr != nil {
			c.logger.WarnContext(ctx, "price cache write failed",
				slog.String("feed", feedID),
				slog.String("error", cacheErr.Error()),
			)
		}
		return point, nil
	}

	cached, cacheErr := c.cache.Get(ctx, feedID)
	if cacheErr != nil {
		return domain.PricePoint{}, err
	}
	c.logger.WarnContext(ctx, "serving cached price after upstream failure",
		slog.String("feed", feedID),
		slog.String("error", err.Error()),
	)
	return cached, nil
}
