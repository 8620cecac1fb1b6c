package application

import (
	"math/big"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestStrategyEngineScore(t *testing.T) {
	chains := NewChains(testChainConfigs())
	cfg := StrategyConfig{
		MinProfitBps:      10,
		MinDeadlineMargin: 5 * time.Minute,
	}
	engine := NewStrategyEngine(cfg, chains)

	t.Run("accept", func(t *testing.T) {
		// 100 in, 99.5 out, 100k gas at 1 gwei with ETH at 3000 is 0.3 USD of gas
		intent := testIntent(t)
		decision := engine.Score(intent, gwei, testPrices())
		require.True(t, decision.Accept)
		require.EqualValues(t, 20, decision.ExpectedProfitBps)
		require.Equal(t, domain.ReasonNone, decision.Reason)
		require.True(t, decision.ProfitUsd.Equal(decimal.RequireFromString("0.2")))
	})

	t.Run("reject", func(t *testing.T) {
		fixtures := []struct {
			name     string
			cfg      StrategyConfig
			intent   func(domain.Intent) domain.Intent
			gasPrice *big.Int
			reason   domain.RejectReason
		}{
			{
				name: "insufficient profit",
				cfg:  cfg,
				intent: func(i domain.Intent) domain.Intent {
					i.OutputAmount = big.NewInt(99_650_000)
					return i
				},
				gasPrice: gwei,
				reason:   domain.ReasonInsufficientProfit,
			},
			{
				name: "fractional loss",
				cfg:  StrategyConfig{MinDeadlineMargin: cfg.MinDeadlineMargin},
				intent: func(i domain.Intent) domain.Intent {
					// 0.005 USD short once gas is paid, -0.5 bps
					i.OutputAmount = big.NewInt(99_705_000)
					return i
				},
				gasPrice: gwei,
				reason:   domain.ReasonInsufficientProfit,
			},
			{
				name: "deadline too close",
				cfg:  cfg,
				intent: func(i domain.Intent) domain.Intent {
					i.FillDeadline = time.Now().Add(time.Minute)
					return i
				},
				gasPrice: gwei,
				reason:   domain.ReasonDeadlineTooClose,
			},
			{
				name: "unsupported chain pair",
				cfg:  cfg,
				intent: func(i domain.Intent) domain.Intent {
					i.DestinationChain = 137
					return i
				},
				gasPrice: gwei,
				reason:   domain.ReasonUnsupportedChainPair,
			},
			{
				name: "same chain",
				cfg:  cfg,
				intent: func(i domain.Intent) domain.Intent {
					i.DestinationChain = i.SourceChain
					return i
				},
				gasPrice: gwei,
				reason:   domain.ReasonUnsupportedChainPair,
			},
			{
				name: "unknown token",
				cfg:  cfg,
				intent: func(i domain.Intent) domain.Intent {
					i.OutputToken = "0x00000000000000000000000000000000000000cc"
					return i
				},
				gasPrice: gwei,
				reason:   domain.ReasonUnknownToken,
			},
			{
				name: "gas price too high",
				cfg: StrategyConfig{
					MinProfitBps:      10,
					MinDeadlineMargin: 5 * time.Minute,
					MaxGasPrice:       gwei,
				},
				intent:   func(i domain.Intent) domain.Intent { return i },
				gasPrice: new(big.Int).Mul(gwei, big.NewInt(2)),
				reason:   domain.ReasonGasPriceTooHigh,
			},
			{
				name: "intent too large",
				cfg: StrategyConfig{
					MinProfitBps:      10,
					MinDeadlineMargin: 5 * time.Minute,
					MaxIntentSize:     decimal.NewFromInt(50),
				},
				intent:   func(i domain.Intent) domain.Intent { return i },
				gasPrice: gwei,
				reason:   domain.ReasonIntentTooLarge,
			},
		}

		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				engine := NewStrategyEngine(f.cfg, chains)
				decision := engine.Score(f.intent(testIntent(t)), f.gasPrice, testPrices())
				require.False(t, decision.Accept)
				require.Equal(t, f.reason, decision.Reason)
			})
		}
	})

	t.Run("missing price", func(t *testing.T) {
		prices := testPrices()
		delete(prices, "ETH")
		decision := engine.Score(testIntent(t), gwei, prices)
		require.False(t, decision.Accept)
		require.Equal(t, domain.ReasonUnknownToken, decision.Reason)
	})

	t.Run("loss is floored", func(t *testing.T) {
		engine := NewStrategyEngine(StrategyConfig{MinDeadlineMargin: cfg.MinDeadlineMargin}, chains)
		intent := testIntent(t)
		intent.OutputAmount = big.NewInt(99_705_000)

		decision := engine.Score(intent, gwei, testPrices())
		require.False(t, decision.Accept)
		require.EqualValues(t, -1, decision.ExpectedProfitBps)
		require.True(t, decision.ProfitUsd.Equal(decimal.RequireFromString("-0.005")))
	})
}

func TestStrategyEngineRank(t *testing.T) {
	engine := NewStrategyEngine(StrategyConfig{}, NewChains(testChainConfigs()))
	now := time.Now()

	candidate := func(orderId string, bps int64, openDeadline time.Time) Candidate {
		return Candidate{
			Intent:   domain.Intent{OrderId: orderId, OpenDeadline: openDeadline},
			Decision: Decision{OrderId: orderId, Accept: true, ExpectedProfitBps: bps},
		}
	}

	ranked := engine.Rank([]Candidate{
		candidate("0x03", 20, now.Add(time.Minute)),
		candidate("0x02", 20, now),
		candidate("0x01", 20, now),
		candidate("0x04", 50, now.Add(time.Hour)),
		candidate("0x05", 5, now),
	})

	ids := make([]string, 0, len(ranked))
	for _, c := range ranked {
		ids = append(ids, c.Intent.OrderId)
	}
	require.Equal(t, []string{"0x04", "0x01", "0x02", "0x03", "0x05"}, ids)
}
