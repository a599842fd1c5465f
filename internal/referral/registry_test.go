package referral

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperpredict/predictd/internal/domain"
)

var (
	user     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	referrer = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	other    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestSetReferrer(t *testing.T) {
	ctx := context.Background()
	r := New(nil, nil)

	got, err := r.ReferrerOf(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, domain.ZeroAddress, got, "unset user has zero referrer")

	require.NoError(t, r.SetReferrer(ctx, user, referrer))

	got, err = r.ReferrerOf(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, referrer, got)
}

func TestSetReferrerRejections(t *testing.T) {
	ctx := context.Background()
	r := New(nil, nil)

	assert.ErrorIs(t, r.SetReferrer(ctx, user, domain.ZeroAddress), domain.ErrInvalidReferrer)
	assert.ErrorIs(t, r.SetReferrer(ctx, user, user), domain.ErrSelfReferral)

	require.NoError(t, r.SetReferrer(ctx, user, referrer))
	assert.ErrorIs(t, r.SetReferrer(ctx, user, other), domain.ErrReferrerAlreadySet)
	assert.ErrorIs(t, r.SetReferrer(ctx, user, referrer), domain.ErrReferrerAlreadySet)

	got, err := r.ReferrerOf(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, referrer, got, "binding survives failed overwrites")
}

func TestReferralChainsAllowed(t *testing.T) {
	ctx := context.Background()
	r := New(nil, nil)

	// A referrer may themselves be referred; only self-reference is banned.
	require.NoError(t, r.SetReferrer(ctx, user, referrer))
	require.NoError(t, r.SetReferrer(ctx, referrer, user))
}
