package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
)

// generateErrorFixtures creates test fixtures with sample metadata for each error type
func generateErrorFixtures() []Error {
	return []Error{
		INTERNAL_ERROR.New("Internal server error occurred").
			WithMetadata(map[string]any{"component": "database"}),

		RPC_UNAVAILABLE.New("rpc endpoint unreachable").
			WithMetadata(ChainMetadata{ChainId: 1}),

		DECODE_ERROR.New("malformed open log").
			WithMetadata(LogMetadata{
				ChainId:     10,
				BlockNumber: 123456,
				TxHash:      "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
				LogIndex:    3,
			}),

		INVALID_TRANSITION.New("status mismatch").
			WithMetadata(TransitionMetadata{
				OrderId:  "0xabc",
				Current:  "Committed",
				Expected: "Accepted",
				Target:   "Committed",
			}),

		INSUFFICIENT_LIQUIDITY.New("not enough free balance").
			WithMetadata(LiquidityMetadata{
				ChainId: 8453, Token: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				Requested: "1000", Free: "10",
			}),

		COMMIT_MISMATCH.New("hash mismatch").
			WithMetadata(CommitmentMetadata{OrderId: "0xabc", CommitHash: "0xdef"}),

		REVEAL_EXPIRED.New("reveal after deadline").
			WithMetadata(CommitmentMetadata{OrderId: "0xabc", RevealDeadline: 1700000000}),

		SETTLEMENT_PARTIAL_FAILURE.New("settle reverted").
			WithMetadata(SettlementMetadata{OrderId: "0xabc", FillTxHash: "0x01", Attempts: 3}),

		DOUBLE_SPEND_RECEIPT.New("receipt already used").
			WithMetadata(ReceiptMetadata{ReceiptId: "r-1"}),

		EPOCH_OUT_OF_RANGE.New("stale receipt").
			WithMetadata(EpochMetadata{Epoch: 1, CurrentEpoch: 100, MaxAge: 24}),

		MALFORMED_HASH.New("bad hash").WithMetadata(HashMetadata{Hash: "0x12"}),

		EMPTY_AGGREGATION.New("no receipts").WithMetadata(ReceiptMetadata{Sender: "0x01"}),
	}
}

func TestErrorMetadata(t *testing.T) {
	fixtures := generateErrorFixtures()

	for _, err := range fixtures {
		require.NotNil(t, err)
		require.NotEmpty(t, err.Error())
		require.NotEmpty(t, err.CodeName())
		require.NotEqual(t, grpccodes.OK, err.GrpcCode())
		require.NotEmpty(t, err.Metadata())
		require.NotNil(t, err.Log())
	}
}

func TestCodeIs(t *testing.T) {
	err := INVALID_TRANSITION.New("status mismatch")
	wrapped := fmt.Errorf("transition failed: %w", err)

	require.True(t, INVALID_TRANSITION.Is(err))
	require.True(t, INVALID_TRANSITION.Is(wrapped))
	require.False(t, REVEAL_EXPIRED.Is(wrapped))
	require.False(t, INVALID_TRANSITION.Is(fmt.Errorf("plain error")))
	require.False(t, INVALID_TRANSITION.Is(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := RPC_UNAVAILABLE.Wrap(cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "RPC_UNAVAILABLE (1)")
	require.Contains(t, err.Error(), "connection refused")
}
