package application

import (
	"math/big"
	"sort"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/shopspring/decimal"
)

const weiDecimals = 18

var bpsScale = decimal.NewFromInt(10_000)

// StrategyEngine scores intents against current prices and gas. It holds no
// mutable state, so scoring can run in parallel.
type StrategyEngine struct {
	cfg    StrategyConfig
	chains Chains
	now    func() time.Time
}

func NewStrategyEngine(cfg StrategyConfig, chains Chains) *StrategyEngine {
	return &StrategyEngine{cfg: cfg, chains: chains, now: time.Now}
}

// Score evaluates the intent given the destination chain gas price (wei) and
// the USD prices. Profit is inputValue - outputValue - gasCost, in basis
// points of inputValue, floored. A loss is never accepted.
func (e *StrategyEngine) Score(
	intent domain.Intent, gasPrice *big.Int, prices ports.Prices,
) Decision {
	decision := Decision{OrderId: intent.OrderId}
	reject := func(reason domain.RejectReason) Decision {
		decision.Accept = false
		decision.Reason = reason
		return decision
	}

	source, okSource := e.chains[intent.SourceChain]
	destination, okDestination := e.chains[intent.DestinationChain]
	if !okSource || !okDestination || intent.SourceChain == intent.DestinationChain {
		return reject(domain.ReasonUnsupportedChainPair)
	}

	inputToken, ok := source.Token(intent.InputToken)
	if !ok {
		return reject(domain.ReasonUnknownToken)
	}
	outputToken, ok := destination.Token(intent.OutputToken)
	if !ok {
		return reject(domain.ReasonUnknownToken)
	}
	inputPrice, ok := prices.Get(inputToken.Symbol)
	if !ok {
		return reject(domain.ReasonUnknownToken)
	}
	outputPrice, ok := prices.Get(outputToken.Symbol)
	if !ok {
		return reject(domain.ReasonUnknownToken)
	}
	nativePrice, ok := prices.Get(destination.NativeSymbol)
	if !ok {
		return reject(domain.ReasonUnknownToken)
	}

	if intent.FillDeadline.Sub(e.now()) <= e.cfg.MinDeadlineMargin {
		return reject(domain.ReasonDeadlineTooClose)
	}

	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	if e.cfg.MaxGasPrice != nil && e.cfg.MaxGasPrice.Sign() > 0 &&
		gasPrice.Cmp(e.cfg.MaxGasPrice) > 0 {
		return reject(domain.ReasonGasPriceTooHigh)
	}

	inputValue := toUnits(intent.InputAmount, inputToken.Decimals).Mul(inputPrice)
	outputValue := toUnits(intent.OutputAmount, outputToken.Decimals).Mul(outputPrice)
	if !inputValue.IsPositive() {
		return reject(domain.ReasonUnknownToken)
	}

	if e.cfg.MaxIntentSize.IsPositive() && inputValue.GreaterThan(e.cfg.MaxIntentSize) {
		return reject(domain.ReasonIntentTooLarge)
	}

	gasUnits := new(big.Int).SetUint64(destination.FillGasUnits + source.SettleGasUnits)
	gasCost := toUnits(new(big.Int).Mul(gasUnits, gasPrice), weiDecimals).Mul(nativePrice)

	profit := inputValue.Sub(outputValue).Sub(gasCost)
	decision.ProfitUsd = profit
	// floored, so that a fraction of a bps of loss never scores 0
	decision.ExpectedProfitBps = profit.Mul(bpsScale).Div(inputValue).Floor().IntPart()

	if profit.IsNegative() || decision.ExpectedProfitBps < e.cfg.MinProfitBps {
		return reject(domain.ReasonInsufficientProfit)
	}

	decision.Accept = true
	return decision
}

// Rank orders candidates by expected profit, then earlier open deadline, then
// order id.
func (e *StrategyEngine) Rank(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Decision.ExpectedProfitBps != b.Decision.ExpectedProfitBps {
			return a.Decision.ExpectedProfitBps > b.Decision.ExpectedProfitBps
		}
		if !a.Intent.OpenDeadline.Equal(b.Intent.OpenDeadline) {
			return a.Intent.OpenDeadline.Before(b.Intent.OpenDeadline)
		}
		return a.Intent.OrderId < b.Intent.OrderId
	})
	return ranked
}

func toUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}
