package ports

import (
	"context"
	"math/big"

	"github.com/arkade-os/solverd/internal/core/domain"
)

type OrderStatus uint8

const (
	OrderUnknown OrderStatus = iota
	OrderOpen
	OrderSettled
	OrderRefunded
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderSettled:
		return "settled"
	case OrderRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// ChainLog is a raw settlement contract log.
type ChainLog struct {
	ChainId     uint64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Address     string
	Topics      []string
	Data        []byte
	Removed     bool
}

type TxConfirmation struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
}

// ChainClient is the solver's view of one chain: the settlement contracts
// (input settler on origin, output settler on destination) plus the solver's
// own signing key.
type ChainClient interface {
	ChainId() uint64
	SolverAddress() string
	BlockNumber(ctx context.Context) (uint64, error)
	FilterOpenLogs(ctx context.Context, fromBlock, toBlock uint64) ([]ChainLog, error)
	DecodeOpenLog(log ChainLog) (*domain.Intent, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TokenBalance(ctx context.Context, token string) (*big.Int, error)

	// destination side
	IsFilled(ctx context.Context, orderId string) (bool, error)
	Fill(
		ctx context.Context, orderId, token string, amount *big.Int, recipient string,
	) (string, error)

	// origin side
	GetOrder(ctx context.Context, orderId string) (OrderStatus, error)
	CanSettle(ctx context.Context, orderId string) (bool, error)
	Settle(ctx context.Context, orderId string) (string, error)

	WaitForConfirmation(
		ctx context.Context, txHash string, confirmations uint64,
	) (*TxConfirmation, error)
	Close()
}
