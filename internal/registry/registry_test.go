package registry

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
	"github.com/hyperpredict/predictd/internal/referral"
	"github.com/hyperpredict/predictd/internal/token"
)

const interval = int64(300)

var (
	ownerAddr    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	operatorAddr = common.HexToAddress("0x000000000000000000000000000000000000000e")
	routerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	userAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	otherAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
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
	t      *testing.T
	ctx    context.Context
	clock  *fakeClock
	oracle *fakeOracle
	bank   *token.MemoryBank
	reg    *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params, err := domain.NewParams(ownerAddr, adminAddr, big.NewInt(10), 30, 200, 100)
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		clock:  &fakeClock{now: 1_700_000_000},
		oracle: &fakeOracle{},
		bank:   token.NewMemoryBank(),
	}
	f.reg = New(Config{
		Params:     params,
		Oracle:     f.oracle,
		Token:      f.bank,
		Referrals:  referral.New(nil, nil),
		RouterAddr: routerAddr,
		Now:        f.clock.Now,
	})

	for _, user := range []common.Address{userAddr, otherAddr} {
		f.bank.Mint(user, big.NewInt(1_000_000))
		require.NoError(t, f.bank.Approve(f.ctx, user, routerAddr, big.NewInt(1_000_000)))
	}
	return f
}

func (f *fixture) createInstance(symbol string) domain.InstanceInfo {
	f.t.Helper()
	info, err := f.reg.CreateInstance(f.ctx, adminAddr, domain.InstanceSpec{
		Symbol:          symbol,
		PriceFeedID:     "feed-" + symbol,
		Operator:        operatorAddr,
		IntervalSeconds: interval,
	})
	require.NoError(f.t, err)
	return info
}

// bootstrap runs genesis on the instance so its round 2 is bettable.
func (f *fixture) bootstrap(id string) {
	f.t.Helper()
	eng, err := f.reg.Instance(id)
	require.NoError(f.t, err)
	require.NoError(f.t, eng.GenesisStartRound(f.ctx, operatorAddr))
	f.clock.advance(interval)
	f.setPrice(1000)
	require.NoError(f.t, eng.GenesisLockRound(f.ctx, operatorAddr))
}

func (f *fixture) setPrice(price int64) {
	f.oracle.price = domain.PricePoint{
		Price:       price,
		PublishTime: f.clock.Now().Unix(),
		RoundID:     f.oracle.price.RoundID + 1,
	}
}

func TestCreateInstance(t *testing.T) {
	f := newFixture(t)

	info := f.createInstance("BTC-USD")
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "BTC-USD", info.Symbol)
	assert.NotEqual(t, domain.ZeroAddress, info.Address)
	assert.Equal(t, operatorAddr, info.Operator)

	second := f.createInstance("ETH-USD")
	assert.NotEqual(t, info.ID, second.ID)
	assert.NotEqual(t, info.Address, second.Address, "instances get distinct accounts")

	list := f.reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "BTC-USD", list[0].Symbol)
	assert.Equal(t, "ETH-USD", list[1].Symbol)

	// The same spec always maps to the same instance and cannot be
	// registered twice.
	_, err := f.reg.CreateInstance(f.ctx, adminAddr, domain.InstanceSpec{
		Symbol:          "BTC-USD",
		PriceFeedID:     "feed-BTC-USD",
		Operator:        operatorAddr,
		IntervalSeconds: interval,
	})
	assert.ErrorIs(t, err, domain.ErrInstanceExists)
}

func TestCreateInstanceValidation(t *testing.T) {
	f := newFixture(t)
	spec := domain.InstanceSpec{
		Symbol:          "BTC-USD",
		PriceFeedID:     "feed-btc",
		Operator:        operatorAddr,
		IntervalSeconds: interval,
	}

	_, err := f.reg.CreateInstance(f.ctx, userAddr, spec)
	assert.ErrorIs(t, err, domain.ErrNotAdmin)

	bad := spec
	bad.Symbol = ""
	_, err = f.reg.CreateInstance(f.ctx, adminAddr, bad)
	assert.ErrorIs(t, err, domain.ErrZeroValue)

	bad = spec
	bad.Operator = domain.ZeroAddress
	_, err = f.reg.CreateInstance(f.ctx, adminAddr, bad)
	assert.ErrorIs(t, err, domain.ErrZeroAddress)

	bad = spec
	bad.IntervalSeconds = 0
	_, err = f.reg.CreateInstance(f.ctx, adminAddr, bad)
	assert.ErrorIs(t, err, domain.ErrZeroValue)
}

func TestInstanceLookup(t *testing.T) {
	f := newFixture(t)
	info := f.createInstance("BTC-USD")

	eng, err := f.reg.Instance(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, eng.ID())

	_, err = f.reg.Instance("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownInstance)
}

func TestBetRouting(t *testing.T) {
	f := newFixture(t)
	info := f.createInstance("BTC-USD")
	f.bootstrap(info.ID)
	eng, _ := f.reg.Instance(info.ID)
	epoch := eng.CurrentEpoch()

	require.NoError(t, f.reg.Bet(f.ctx, userAddr, info.ID, epoch, domain.PositionBull, big.NewInt(500)))

	bet := eng.BetOf(epoch, userAddr)
	require.NotNil(t, bet, "ledger credits the original caller")
	assert.Equal(t, big.NewInt(500), bet.Amount)

	userBal, err := f.bank.BalanceOf(f.ctx, userAddr)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(999_500), userBal)

	instBal, err := f.bank.BalanceOf(f.ctx, info.Address)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), instBal, "stake lands in the instance account")

	routerBal, err := f.bank.BalanceOf(f.ctx, routerAddr)
	require.NoError(t, err)
	assert.Zero(t, routerBal.Sign(), "router holds no residual")
}

func TestBetRoutingRefundsOnRejection(t *testing.T) {
	f := newFixture(t)
	info := f.createInstance("BTC-USD")
	f.bootstrap(info.ID)
	eng, _ := f.reg.Instance(info.ID)

	// Wrong epoch: the engine rejects after the stake was pulled.
	err := f.reg.Bet(f.ctx, userAddr, info.ID, eng.CurrentEpoch()+1, domain.PositionBull, big.NewInt(500))
	require.ErrorIs(t, err, domain.ErrBetWrongEpoch)

	userBal, bErr := f.bank.BalanceOf(f.ctx, userAddr)
	require.NoError(t, bErr)
	assert.Equal(t, big.NewInt(1_000_000), userBal, "rejected stake is refunded in full")

	routerBal, bErr := f.bank.BalanceOf(f.ctx, routerAddr)
	require.NoError(t, bErr)
	assert.Zero(t, routerBal.Sign())
}

func TestBetUnknownInstance(t *testing.T) {
	f := newFixture(t)
	err := f.reg.Bet(f.ctx, userAddr, "nope", 1, domain.PositionBull, big.NewInt(50))
	assert.ErrorIs(t, err, domain.ErrUnknownInstance)
}

// settle runs one full betting round on the instance with user stakes on
// both sides and a bull-winning close.
func (f *fixture) settle(id string) uint64 {
	f.t.Helper()
	f.bootstrap(id)
	eng, err := f.reg.Instance(id)
	require.NoError(f.t, err)
	epoch := eng.CurrentEpoch()

	require.NoError(f.t, f.reg.Bet(f.ctx, userAddr, id, epoch, domain.PositionBull, big.NewInt(300)))
	require.NoError(f.t, f.reg.Bet(f.ctx, otherAddr, id, epoch, domain.PositionBear, big.NewInt(100)))

	f.clock.advance(interval)
	f.setPrice(1100)
	require.NoError(f.t, eng.ExecuteRound(f.ctx, operatorAddr))
	f.clock.advance(interval)
	f.setPrice(1200)
	require.NoError(f.t, eng.ExecuteRound(f.ctx, operatorAddr))
	f.clock.advance(1)
	return epoch
}

func TestBatchClaimAcrossInstances(t *testing.T) {
	f := newFixture(t)
	first := f.createInstance("BTC-USD")
	epoch1 := f.settle(first.ID)
	second := f.createInstance("ETH-USD")
	epoch2 := f.settle(second.ID)

	results, err := f.reg.BatchClaim(f.ctx, userAddr, []ClaimRequest{
		{InstanceID: first.ID, Epochs: []uint64{epoch1}},
		{InstanceID: second.ID, Epochs: []uint64{epoch2}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Each round: 400 pot, 2% + 1% fees, sole winner takes 388.
	assert.Equal(t, big.NewInt(388), results[0].Paid)
	assert.Equal(t, big.NewInt(388), results[1].Paid)
}

func TestBatchClaimAllOrNothing(t *testing.T) {
	f := newFixture(t)
	first := f.createInstance("BTC-USD")
	epoch1 := f.settle(first.ID)

	_, err := f.reg.BatchClaim(f.ctx, userAddr, []ClaimRequest{
		{InstanceID: first.ID, Epochs: []uint64{epoch1}},
		{InstanceID: "nope", Epochs: []uint64{1}},
	})
	require.ErrorIs(t, err, domain.ErrUnknownInstance)

	eng, _ := f.reg.Instance(first.ID)
	assert.True(t, eng.Claimable(epoch1, userAddr), "nothing was paid out")

	// An ineligible epoch fails the batch the same way.
	_, err = f.reg.BatchClaim(f.ctx, userAddr, []ClaimRequest{
		{InstanceID: first.ID, Epochs: []uint64{epoch1, epoch1 + 100}},
	})
	require.ErrorIs(t, err, domain.ErrRoundNotStarted)
	assert.True(t, eng.Claimable(epoch1, userAddr))
}

func TestBatchClaimOverlappingEpochsRejected(t *testing.T) {
	f := newFixture(t)
	first := f.createInstance("BTC-USD")
	epoch1 := f.settle(first.ID)

	before, err := f.bank.BalanceOf(f.ctx, userAddr)
	require.NoError(t, err)

	// Two entries naming the same instance and epoch would each validate in
	// isolation and then double-fail mid-execution; the batch is rejected
	// before anything is paid.
	_, err = f.reg.BatchClaim(f.ctx, userAddr, []ClaimRequest{
		{InstanceID: first.ID, Epochs: []uint64{epoch1}},
		{InstanceID: first.ID, Epochs: []uint64{epoch1}},
	})
	require.ErrorIs(t, err, domain.ErrNotClaimable)

	after, err := f.bank.BalanceOf(f.ctx, userAddr)
	require.NoError(t, err)
	assert.Equal(t, before, after, "rejected batch pays nothing")

	// Same rejection for a duplicated epoch within one entry.
	_, err = f.reg.BatchClaim(f.ctx, userAddr, []ClaimRequest{
		{InstanceID: first.ID, Epochs: []uint64{epoch1, epoch1}},
	})
	require.ErrorIs(t, err, domain.ErrNotClaimable)

	eng, _ := f.reg.Instance(first.ID)
	assert.True(t, eng.Claimable(epoch1, userAddr), "stake still claimable once")

	results, err := f.reg.BatchClaim(f.ctx, userAddr, []ClaimRequest{
		{InstanceID: first.ID, Epochs: []uint64{epoch1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, big.NewInt(388), results[0].Paid)
}

func TestParamAdministration(t *testing.T) {
	f := newFixture(t)
	ctx := f.ctx

	assert.ErrorIs(t, f.reg.SetMinBetAmount(ctx, userAddr, big.NewInt(5)), domain.ErrNotAdmin)
	require.NoError(t, f.reg.SetMinBetAmount(ctx, adminAddr, big.NewInt(5)))
	assert.Equal(t, big.NewInt(5), f.reg.Params().MinBetAmount())

	assert.ErrorIs(t, f.reg.SetTreasuryFeeBps(ctx, adminAddr, 3000), domain.ErrFeeTooHigh)
	require.NoError(t, f.reg.SetTreasuryFeeBps(ctx, adminAddr, 300))
	assert.Equal(t, uint64(300), f.reg.Params().TreasuryFeeBps())

	require.NoError(t, f.reg.SetReferralFeeBps(ctx, adminAddr, 50))
	assert.Equal(t, uint64(50), f.reg.Params().ReferralFeeBps())

	assert.ErrorIs(t, f.reg.SetBufferSeconds(ctx, adminAddr, 0), domain.ErrZeroValue)
	require.NoError(t, f.reg.SetBufferSeconds(ctx, adminAddr, 60))
	assert.Equal(t, int64(60), f.reg.Params().BufferSeconds())

	// Admin rotation is owner-only; the old admin loses its powers.
	assert.ErrorIs(t, f.reg.SetAdmin(ctx, adminAddr, userAddr), domain.ErrNotOwner)
	require.NoError(t, f.reg.SetAdmin(ctx, ownerAddr, userAddr))
	assert.ErrorIs(t, f.reg.SetMinBetAmount(ctx, adminAddr, big.NewInt(7)), domain.ErrNotAdmin)
	require.NoError(t, f.reg.SetMinBetAmount(ctx, userAddr, big.NewInt(7)))
}

func TestSharedParamsReachAllInstances(t *testing.T) {
	f := newFixture(t)
	first := f.createInstance("BTC-USD")
	f.bootstrap(first.ID)
	eng, _ := f.reg.Instance(first.ID)

	require.NoError(t, f.reg.SetMinBetAmount(f.ctx, adminAddr, big.NewInt(1000)))

	err := f.reg.Bet(f.ctx, userAddr, first.ID, eng.CurrentEpoch(), domain.PositionBull, big.NewInt(500))
	assert.ErrorIs(t, err, domain.ErrBetBelowMinimum)
}
