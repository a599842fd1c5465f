package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/referral"
	"github.com/hyperpredict/predictd/internal/registry"
	"github.com/hyperpredict/predictd/internal/token"
)

const interval = int64(300)

var (
	ownerAddr    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	operatorAddr = common.HexToAddress("0x000000000000000000000000000000000000000e")
	routerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	userAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	referrerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) advance(seconds int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += seconds
}

type fakeOracle struct {
	price domain.PricePoint
}

func (o *fakeOracle) LatestPrice(context.Context, string) (domain.PricePoint, error) {
	return o.price, nil
}

type fixture struct {
	t         *testing.T
	clock     *fakeClock
	oracle    *fakeOracle
	bank      *token.MemoryBank
	reg       *registry.Registry
	referrals *referral.Registry
	mux       *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params, err := domain.NewParams(ownerAddr, adminAddr, big.NewInt(10), 30, 200, 100)
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		clock:     &fakeClock{now: 1_700_000_000},
		oracle:    &fakeOracle{},
		bank:      token.NewMemoryBank(),
		referrals: referral.New(nil, nil),
	}
	f.reg = registry.New(registry.Config{
		Params:     params,
		Oracle:     f.oracle,
		Token:      f.bank,
		Referrals:  f.referrals,
		RouterAddr: routerAddr,
		Now:        f.clock.Now,
	})

	f.bank.Mint(userAddr, big.NewInt(1_000_000))
	require.NoError(t, f.bank.Approve(context.Background(), userAddr, routerAddr, big.NewInt(1_000_000)))

	logger := testLogger()
	instances := NewInstanceHandler(f.reg, logger)
	rounds := NewRoundHandler(f.reg, nil, logger)
	bets := NewBetHandler(f.reg, f.reg, logger)
	claims := NewClaimHandler(f.reg, f.reg, logger)
	users := NewUserHandler(f.reg, nil, f.bank, logger)
	referrals := NewReferralHandler(f.referrals, logger)
	admin := NewAdminHandler(f.reg, f.reg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/instances", instances.ListInstances)
	mux.HandleFunc("POST /api/instances", instances.CreateInstance)
	mux.HandleFunc("GET /api/instances/{id}", instances.GetInstance)
	mux.HandleFunc("GET /api/instances/{id}/rounds/current", rounds.GetCurrentRound)
	mux.HandleFunc("GET /api/instances/{id}/rounds/{epoch}", rounds.GetRound)
	mux.HandleFunc("POST /api/instances/{id}/bets", bets.PlaceBet)
	mux.HandleFunc("GET /api/instances/{id}/rounds/{epoch}/bets/{user}", bets.GetBet)
	mux.HandleFunc("POST /api/claims", claims.BatchClaim)
	mux.HandleFunc("POST /api/claims/validate", claims.ValidateClaim)
	mux.HandleFunc("GET /api/instances/{id}/users/{user}/rounds", users.GetUserRounds)
	mux.HandleFunc("GET /api/instances/{id}/users/{user}/rounds/{epoch}/eligibility", users.GetClaimEligibility)
	mux.HandleFunc("GET /api/users/{user}/balance", users.GetBalance)
	mux.HandleFunc("POST /api/referrals", referrals.SetReferrer)
	mux.HandleFunc("GET /api/referrals/{user}", referrals.GetReferrer)
	mux.HandleFunc("GET /api/admin/params", admin.GetParams)
	mux.HandleFunc("PUT /api/admin/params", admin.UpdateParams)
	mux.HandleFunc("POST /api/admin/instances/{id}/pause", admin.Pause)
	f.mux = mux
	return f
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createInstance() string {
	f.t.Helper()
	body := fmt.Sprintf(`{"caller":%q,"symbol":"BTCUSD","price_feed_id":"feed-btc","operator":%q,"interval_seconds":%d}`,
		adminAddr.Hex(), operatorAddr.Hex(), interval)
	rec := f.do(http.MethodPost, "/api/instances", body)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())

	var info domain.InstanceInfo
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &info))
	return info.ID
}

func (f *fixture) setPrice(price int64) {
	f.oracle.price = domain.PricePoint{
		Price:       price,
		PublishTime: f.clock.Now().Unix(),
		RoundID:     f.oracle.price.RoundID + 1,
	}
}

// bootstrap runs genesis so round 2 of the instance is bettable.
func (f *fixture) bootstrap(id string) {
	f.t.Helper()
	ctx := context.Background()
	eng, err := f.reg.Instance(id)
	require.NoError(f.t, err)
	require.NoError(f.t, eng.GenesisStartRound(ctx, operatorAddr))
	f.clock.advance(interval)
	f.setPrice(1000)
	require.NoError(f.t, eng.GenesisLockRound(ctx, operatorAddr))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateAndGetInstance(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()

	rec := f.do(http.MethodGet, "/api/instances/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "BTCUSD", out["symbol"])
	assert.Equal(t, float64(0), out["current_epoch"])
	assert.Equal(t, false, out["paused"])

	rec = f.do(http.MethodGet, "/api/instances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["total"])
}

func TestCreateInstanceRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	body := fmt.Sprintf(`{"caller":%q,"symbol":"BTCUSD","price_feed_id":"feed","operator":%q,"interval_seconds":300}`,
		userAddr.Hex(), operatorAddr.Hex())
	rec := f.do(http.MethodPost, "/api/instances", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetInstanceUnknown(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/instances/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCurrentRound(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	rec := f.do(http.MethodGet, "/api/instances/"+id+"/rounds/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["epoch"])

	rec = f.do(http.MethodGet, "/api/instances/"+id+"/rounds/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["epoch"])

	rec = f.do(http.MethodGet, "/api/instances/"+id+"/rounds/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceBet(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	body := fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"bull","amount":"400"}`, userAddr.Hex())
	rec := f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/instances/"+id+"/rounds/2/bets/"+userAddr.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "bull", out["position"])
}

func TestPlaceBetRejections(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	// Wrong epoch.
	body := fmt.Sprintf(`{"caller":%q,"epoch":1,"position":"bull","amount":"400"}`, userAddr.Hex())
	rec := f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Below minimum.
	body = fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"bull","amount":"5"}`, userAddr.Hex())
	rec = f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Bad position name.
	body = fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"sideways","amount":"400"}`, userAddr.Hex())
	rec = f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No allowance for this caller.
	body = fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"bull","amount":"400"}`, referrerAddr.Hex())
	rec = f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestClaimFlow(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	ctx := context.Background()
	eng, err := f.reg.Instance(id)
	require.NoError(t, err)

	body := fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"bull","amount":"400"}`, userAddr.Hex())
	rec := f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Lock round 2, then close it higher so bull wins.
	f.clock.advance(interval)
	f.setPrice(1000)
	require.NoError(t, eng.ExecuteRound(ctx, operatorAddr))
	f.clock.advance(interval)
	f.setPrice(1100)
	require.NoError(t, eng.ExecuteRound(ctx, operatorAddr))
	f.clock.advance(1)

	claimBody := fmt.Sprintf(`{"caller":%q,"claims":[{"instance_id":%q,"epochs":[2]}]}`, userAddr.Hex(), id)

	rec = f.do(http.MethodPost, "/api/claims/validate", claimBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/claims", claimBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Results []struct {
			InstanceID string `json:"instance_id"`
			Paid       string `json:"paid"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Results, 1)
	// Single-sided winner takes the whole reward: 400 - 2% - 1% = 388.
	assert.Equal(t, "388", out.Results[0].Paid)

	// A second claim on the same epoch is rejected for the whole batch.
	rec = f.do(http.MethodPost, "/api/claims", claimBody)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestClaimEligibility(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	path := fmt.Sprintf("/api/instances/%s/users/%s/rounds/2/eligibility", id, userAddr.Hex())
	rec := f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["claimable"])
	assert.Equal(t, false, out["refundable"])
}

func TestUserRoundsAndBalance(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	body := fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"bear","amount":"100"}`, userAddr.Hex())
	rec := f.do(http.MethodPost, "/api/instances/"+id+"/bets", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	path := fmt.Sprintf("/api/instances/%s/users/%s/rounds", id, userAddr.Hex())
	rec = f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(1), out["total"])

	rec = f.do(http.MethodGet, "/api/users/"+userAddr.Hex()+"/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "999900", decode(t, rec)["balance"])
}

func TestReferralEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/referrals/"+userAddr.Hex(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := fmt.Sprintf(`{"user":%q,"referrer":%q}`, userAddr.Hex(), referrerAddr.Hex())
	rec = f.do(http.MethodPost, "/api/referrals", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/referrals/"+userAddr.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, referrerAddr.Hex(), decode(t, rec)["referrer"])

	// Rebinding is rejected.
	rec = f.do(http.MethodPost, "/api/referrals", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Self referral is rejected.
	body = fmt.Sprintf(`{"user":%q,"referrer":%q}`, referrerAddr.Hex(), referrerAddr.Hex())
	rec = f.do(http.MethodPost, "/api/referrals", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdminParams(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/admin/params", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(200), out["treasury_fee_bps"])

	body := fmt.Sprintf(`{"caller":%q,"treasury_fee_bps":300,"min_bet_amount":"25"}`, adminAddr.Hex())
	rec = f.do(http.MethodPut, "/api/admin/params", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode(t, rec)
	assert.Equal(t, float64(300), out["treasury_fee_bps"])
	assert.Equal(t, "25", out["min_bet_amount"])

	// Non-admin callers are rejected.
	body = fmt.Sprintf(`{"caller":%q,"treasury_fee_bps":400}`, userAddr.Hex())
	rec = f.do(http.MethodPut, "/api/admin/params", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Fee above the cap is rejected.
	body = fmt.Sprintf(`{"caller":%q,"treasury_fee_bps":9000}`, adminAddr.Hex())
	rec = f.do(http.MethodPut, "/api/admin/params", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdminPause(t *testing.T) {
	f := newFixture(t)
	id := f.createInstance()
	f.bootstrap(id)

	body := fmt.Sprintf(`{"caller":%q}`, adminAddr.Hex())
	rec := f.do(http.MethodPost, "/api/admin/instances/"+id+"/pause", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/instances/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["paused"])

	// Betting is rejected while paused.
	betBody := fmt.Sprintf(`{"caller":%q,"epoch":2,"position":"bull","amount":"400"}`, userAddr.Hex())
	rec = f.do(http.MethodPost, "/api/instances/"+id+"/bets", betBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
