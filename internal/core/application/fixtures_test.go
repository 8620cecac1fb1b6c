package application

import (
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	originChain      = uint64(1)
	destinationChain = uint64(10)
	originUsdc       = "0x00000000000000000000000000000000000000a1"
	destinationUsdc  = "0x00000000000000000000000000000000000000b1"
	testUser         = "0x00000000000000000000000000000000000000aa"
	testRecipient    = "0x00000000000000000000000000000000000000bb"
)

var gwei = big.NewInt(1_000_000_000)

func testChainConfigs() []ChainConfig {
	return []ChainConfig{
		{
			ChainId:        originChain,
			Name:           "origin",
			NativeSymbol:   "ETH",
			FillGasUnits:   60_000,
			SettleGasUnits: 40_000,
			Tokens: []TokenConfig{{
				Address:     originUsdc,
				Symbol:      "USDC",
				Decimals:    6,
				TargetRatio: decimal.RequireFromString("0.5"),
				FloorRatio:  decimal.RequireFromString("0.2"),
			}},
		},
		{
			ChainId:        destinationChain,
			Name:           "destination",
			NativeSymbol:   "ETH",
			FillGasUnits:   60_000,
			SettleGasUnits: 40_000,
			Tokens: []TokenConfig{{
				Address:     destinationUsdc,
				Symbol:      "USDC",
				Decimals:    6,
				TargetRatio: decimal.RequireFromString("0.5"),
				FloorRatio:  decimal.RequireFromString("0.2"),
			}},
		},
	}
}

func testPrices() ports.Prices {
	return ports.Prices{
		"USDC": decimal.NewFromInt(1),
		"ETH":  decimal.NewFromInt(3000),
	}
}

func randomOrderId(t *testing.T) string {
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return hexutil.Encode(buf)
}

// testIntent moves 100 USDC from origin to 99.5 USDC on destination.
func testIntent(t *testing.T) domain.Intent {
	now := time.Now()
	return domain.Intent{
		OrderId:          randomOrderId(t),
		SourceChain:      originChain,
		DestinationChain: destinationChain,
		User:             testUser,
		InputToken:       originUsdc,
		InputAmount:      big.NewInt(100_000_000),
		OutputToken:      destinationUsdc,
		OutputAmount:     big.NewInt(99_500_000),
		Recipient:        testRecipient,
		OpenDeadline:     now.Add(time.Minute),
		FillDeadline:     now.Add(time.Hour),
		Status:           domain.IntentDiscovered,
	}
}
