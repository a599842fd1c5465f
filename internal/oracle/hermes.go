// Package oracle provides price feeds for the settlement engine. The primary
// implementation is a client for the Pyth Hermes HTTP API; a caching
// decorator keeps the latest read per feed in a shared cache.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hyperpredict/predictd/internal/domain"
)

// targetExpo is the implied-decimal exponent every price is normalized to.
const targetExpo = -8

// HermesClient is the REST client for the Pyth Hermes price service.
type HermesClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHermesClient creates a Hermes client.
//
// baseURL is the service root, e.g. "https://hermes.pyth.network".
func NewHermesClient(baseURL string) *HermesClient {
	return NewHermesClientWithTimeout(baseURL, 10*time.Second)
}

// NewHermesClientWithTimeout creates a Hermes client with a custom request
// timeout.
func NewHermesClientWithTimeout(baseURL string, timeout time.Duration) *HermesClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HermesClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiPrice mirrors the price object of the Hermes v2 response.
type apiPrice struct {
	Price       string `json:"price"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type apiParsedUpdate struct {
	ID    string   `json:"id"`
	Price apiPrice `json:"price"`
}

type apiLatestResponse struct {
	Parsed []apiParsedUpdate `json:"parsed"`
}

// LatestPrice returns the most recent published price for feedID, normalized
// to 8 implied decimals. The feed's publish time doubles as the oracle
// sequence number.
func (h *HermesClient) LatestPrice(ctx context.Context, feedID string) (domain.PricePoint, error) {
	params := url.Values{}
	params.Add("ids[]", feedID)
	params.Set("parsed", "true")

	path := "/v2/updates/price/latest?" + params.Encode()

	body, err := h.doGet(ctx, path)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle/hermes: latest price %s: %w", feedID, err)
	}

	var resp apiLatestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle/hermes: decode response: %w", err)
	}
	if len(resp.Parsed) == 0 {
		return domain.PricePoint{}, fmt.Errorf("oracle/hermes: feed %s: %w", feedID, domain.ErrPriceMissing)
	}

	update := resp.Parsed[0]
	price, err := normalizePrice(update.Price.Price, update.Price.Expo)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("oracle/hermes: feed %s: %w", feedID, err)
	}

	return domain.PricePoint{
		Price:       price,
		PublishTime: update.Price.PublishTime,
		RoundID:     uint64(update.Price.PublishTime),
	}, nil
}

// normalizePrice rescales raw with its exponent onto targetExpo. Scaling up
// fails rather than overflow on a malformed (or hostile) exponent.
func normalizePrice(raw string, expo int32) (int64, error) {
	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	for expo > targetExpo {
		if price > math.MaxInt64/10 || price < math.MinInt64/10 {
			return 0, fmt.Errorf("price %s with expo %d overflows int64", raw, expo)
		}
		price *= 10
		expo--
	}
	for expo < targetExpo {
		price /= 10
		expo++
	}
	return price, nil
}

// doGet sends an unauthenticated GET request to the Hermes API.
func (h *HermesClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
