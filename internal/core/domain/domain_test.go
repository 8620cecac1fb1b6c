package domain_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

const (
	orderId = "0xabc0000000000000000000000000000000000000000000000000000000000001"
	nonce   = "0x0101010101010101010101010101010101010101010101010101010101010101"
)

func TestIntentStatusTransitions(t *testing.T) {
	fixtures := []struct {
		from     domain.IntentStatus
		to       domain.IntentStatus
		expected bool
	}{
		{domain.IntentDiscovered, domain.IntentAccepted, true},
		{domain.IntentDiscovered, domain.IntentRejected, true},
		{domain.IntentDiscovered, domain.IntentCommitted, false},
		{domain.IntentRejected, domain.IntentAccepted, true},
		{domain.IntentAccepted, domain.IntentCommitted, true},
		{domain.IntentCommitted, domain.IntentAccepted, true},
		{domain.IntentCommitted, domain.IntentRevealed, true},
		{domain.IntentRevealed, domain.IntentFilled, true},
		{domain.IntentFilled, domain.IntentSettlementPending, true},
		{domain.IntentFilled, domain.IntentSettled, true},
		{domain.IntentSettlementPending, domain.IntentSettled, true},
		{domain.IntentSettlementPending, domain.IntentFilled, false},
		{domain.IntentCommitted, domain.IntentExpired, true},
		{domain.IntentFilled, domain.IntentExpired, false},
		{domain.IntentSettlementPending, domain.IntentExpired, false},
		{domain.IntentRevealed, domain.IntentFailed, true},
		{domain.IntentSettled, domain.IntentFailed, false},
		{domain.IntentExpired, domain.IntentAccepted, false},
	}

	for _, f := range fixtures {
		require.Equal(
			t, f.expected, f.from.CanTransitionTo(f.to), "%s -> %s", f.from, f.to,
		)
	}
}

func TestCommitHash(t *testing.T) {
	params := domain.FillParams{
		DestinationChain: 8453,
		Token:            "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		Amount:           big.NewInt(99_500_000),
		Recipient:        "0x000000000000000000000000000000000000beef",
	}

	t.Run("deterministic", func(t *testing.T) {
		h1, err := domain.ComputeCommitHash(orderId, nonce, params)
		require.NoError(t, err)
		h2, err := domain.ComputeCommitHash(orderId, nonce, params)
		require.NoError(t, err)
		require.Equal(t, h1, h2)
		require.Len(t, h1, 66)
	})

	t.Run("binds params", func(t *testing.T) {
		h1, err := domain.ComputeCommitHash(orderId, nonce, params)
		require.NoError(t, err)

		changed := params
		changed.Amount = big.NewInt(99_500_001)
		h2, err := domain.ComputeCommitHash(orderId, nonce, changed)
		require.NoError(t, err)
		require.NotEqual(t, h1, h2)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := domain.ComputeCommitHash("0x1234", nonce, params)
		require.Error(t, err)
		_, err = domain.ComputeCommitHash(orderId, "0x01", params)
		require.Error(t, err)
	})
}

func TestEpochClock(t *testing.T) {
	clock := domain.EpochClock{Width: time.Hour}
	now := time.Unix(1_700_000_000, 0)
	current := clock.EpochAt(now)

	require.Equal(t, uint64(1_700_000_000/3600), current)
	require.True(t, domain.IsRecent(current, current, 24))
	require.True(t, domain.IsRecent(current-24, current, 24))
	require.False(t, domain.IsRecent(current-25, current, 24))
	require.False(t, domain.IsRecent(current+1, current, 24))
}

func TestReceiptSigningMessage(t *testing.T) {
	msg := domain.ReceiptSigningMessage(
		"0xAB00000000000000000000000000000000000000000000000000000000000000",
		"0x00000000000000000000000000000000000000AA",
		"0x00000000000000000000000000000000000000BB",
		1024, 472222,
	)
	require.Equal(
		t,
		"TRANSFER_RECEIPT:0xab00000000000000000000000000000000000000000000000000000000000000:"+
			"0x00000000000000000000000000000000000000aa:"+
			"0x00000000000000000000000000000000000000bb:1024:472222",
		msg,
	)
	require.True(t, domain.IsValidContentHash(
		"0xAB00000000000000000000000000000000000000000000000000000000000000",
	))
	require.False(t, domain.IsValidContentHash("0xab"))
	require.False(t, domain.IsValidContentHash("not-a-hash"))
}

func TestLiquidityPositionFree(t *testing.T) {
	pos := domain.NewLiquidityPosition(1, "0xTOKEN", big.NewInt(100), nil)
	pos.Exposure = big.NewInt(30)

	require.Equal(t, "0xtoken", pos.Token)
	require.Equal(t, int64(70), pos.Free().Int64())

	clone := pos.Clone()
	clone.Exposure.SetInt64(0)
	require.Equal(t, int64(30), pos.Exposure.Int64())
}
