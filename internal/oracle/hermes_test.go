package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
)

const testFeed = "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

func hermesStub(t *testing.T, price string, expo int32, publishTime int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/updates/price/latest", r.URL.Path)
		assert.Equal(t, testFeed, r.URL.Query().Get("ids[]"))
		fmt.Fprintf(w, `{"parsed":[{"id":%q,"price":{"price":%q,"conf":"1000","expo":%d,"publish_time":%d}}]}`,
			testFeed, price, expo, publishTime)
	}))
}

func TestLatestPrice(t *testing.T) {
	srv := hermesStub(t, "6553600000000", -8, 1_700_000_123)
	defer srv.Close()

	point, err := NewHermesClient(srv.URL).LatestPrice(context.Background(), testFeed)
	require.NoError(t, err)
	assert.Equal(t, int64(6553600000000), point.Price)
	assert.Equal(t, int64(1_700_000_123), point.PublishTime)
	assert.Equal(t, uint64(1_700_000_123), point.RoundID)
}

func TestLatestPriceNormalizesExponent(t *testing.T) {
	tests := []struct {
		name  string
		price string
		expo  int32
		want  int64
	}{
		{"native expo", "4200000000", -8, 4200000000},
		{"coarser expo scales up", "42000", -3, 4200000000},
		{"finer expo scales down", "420000000000", -10, 4200000000},
		{"zero expo", "42", 0, 4200000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := hermesStub(t, tt.price, tt.expo, 1_700_000_000)
			defer srv.Close()

			point, err := NewHermesClient(srv.URL).LatestPrice(context.Background(), testFeed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, point.Price)
		})
	}
}

func TestLatestPriceOverflowingExponentRejected(t *testing.T) {
	// Scaling 9e18 up by ten would overflow int64; the read must fail
	// instead of returning a silently wrapped price.
	srv := hermesStub(t, "9000000000000000000", -7, 1_700_000_000)
	defer srv.Close()

	_, err := NewHermesClient(srv.URL).LatestPrice(context.Background(), testFeed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows")
}

func TestLatestPriceEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"parsed":[]}`)
	}))
	defer srv.Close()

	_, err := NewHermesClient(srv.URL).LatestPrice(context.Background(), testFeed)
	assert.ErrorIs(t, err, domain.ErrPriceMissing)
}

func TestLatestPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such feed", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHermesClient(srv.URL).LatestPrice(context.Background(), testFeed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}

type stubOracle struct {
	point domain.PricePoint
	err   error
}

func (s *stubOracle) LatestPrice(context.Context, string) (domain.PricePoint, error) {
	return s.point, s.err
}

type mapCache struct {
	points map[string]domain.PricePoint
}

func (m *mapCache) Get(_ context.Context, feedID string) (domain.PricePoint, error) {
	p, ok := m.points[feedID]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *mapCache) Set(_ context.Context, feedID string, p domain.PricePoint) error {
	m.points[feedID] = p
	return nil
}

func TestCachedOracleWritesThrough(t *testing.T) {
	upstream := &stubOracle{point: domain.PricePoint{Price: 100, PublishTime: 5, RoundID: 5}}
	cache := &mapCache{points: make(map[string]domain.PricePoint)}
	c := NewCachedOracle(upstream, cache, nil)

	point, err := c.LatestPrice(context.Background(), "feed")
	require.NoError(t, err)
	assert.Equal(t, int64(100), point.Price)
	assert.Equal(t, upstream.point, cache.points["feed"])
}

func TestCachedOracleFallsBack(t *testing.T) {
	cache := &mapCache{points: map[string]domain.PricePoint{
		"feed": {Price: 99, PublishTime: 4, RoundID: 4},
	}}
	c := NewCachedOracle(&stubOracle{err: errors.New("upstream down")}, cache, nil)

	point, err := c.LatestPrice(context.Background(), "feed")
	require.NoError(t, err)
	assert.Equal(t, int64(99), point.Price)

	// No cached point: the upstream error surfaces.
	_, err = c.LatestPrice(context.Background(), "other")
	assert.EqualError(t, err, "upstream down")
}
