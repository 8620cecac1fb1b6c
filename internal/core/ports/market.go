package ports

import (
	"context"
	"strings"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/shopspring/decimal"
)

// Prices maps an upper-case token symbol to its USD price per whole token.
type Prices map[string]decimal.Decimal

func (p Prices) Get(symbol string) (decimal.Decimal, bool) {
	price, ok := p[strings.ToUpper(symbol)]
	return price, ok
}

type PriceOracle interface {
	Prices(ctx context.Context) (Prices, error)
	Update(ctx context.Context, prices Prices) error
}

type ReputationLedger interface {
	Submit(ctx context.Context, aggregated domain.AggregatedReceipt) error
}

// Metrics records the solver's decision log counters.
type Metrics interface {
	IntentDiscovered(chainId uint64)
	IntentTransitioned(from, to domain.IntentStatus)
	DecisionMade(accept bool, reason domain.RejectReason)
	ReservationAttempted(chainId uint64, token string, ok bool)
	SettlementFinished(stage domain.SettlementStage)
	ReceiptProcessed(outcome string)
	WatcherHeight(chainId uint64, height uint64)
	RpcError(chainId uint64)
}
