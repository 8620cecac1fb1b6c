package application

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/shopspring/decimal"
)

type Service interface {
	Start() error
	Stop()
	GetInfo(ctx context.Context) (*ServiceInfo, error)
	ListIntents(ctx context.Context, statuses ...domain.IntentStatus) ([]domain.Intent, error)
	GetIntent(ctx context.Context, orderId string) (*domain.Intent, error)
	LiquidityPositions(ctx context.Context) []domain.LiquidityPosition
	PendingReconciliations(ctx context.Context) ([]domain.SettlementRecord, error)
	Reconcile(ctx context.Context, orderId string) (*domain.SettlementRecord, error)
	UpdatePrices(ctx context.Context, prices ports.Prices) error
	AddReceipt(ctx context.Context, receipt domain.TransferReceipt) error
	VerifyReceipt(
		ctx context.Context, receipt domain.TransferReceipt, expectedSender, expectedReceiver string,
	) Verification
	AggregateReceipts(ctx context.Context, sender string) (*domain.AggregatedReceipt, error)
}

type ServiceInfo struct {
	SolverAddress  string
	Chains         []uint64
	CurrentEpoch   uint64
	MinProfitBps   int64
	PendingIntents int64
}

type TokenConfig struct {
	Address     string
	Symbol      string
	Decimals    int32
	MaxExposure *big.Int
	// TargetRatio and FloorRatio are the token's wanted and minimum share of the
	// cross-chain available balance on this chain. Zero disables rebalancing.
	TargetRatio decimal.Decimal
	FloorRatio  decimal.Decimal
}

type ChainConfig struct {
	ChainId        uint64
	Name           string
	NativeSymbol   string
	Confirmations  uint64
	StartBlock     uint64
	FillGasUnits   uint64
	SettleGasUnits uint64
	Tokens         []TokenConfig
}

func (c ChainConfig) Token(address string) (TokenConfig, bool) {
	for _, token := range c.Tokens {
		if strings.EqualFold(token.Address, address) {
			return token, true
		}
	}
	return TokenConfig{}, false
}

// Chains indexes the configured chains by id.
type Chains map[uint64]ChainConfig

func NewChains(chains []ChainConfig) Chains {
	book := make(Chains, len(chains))
	for _, c := range chains {
		book[c.ChainId] = c
	}
	return book
}

func (c Chains) Token(chainId uint64, address string) (TokenConfig, bool) {
	chain, ok := c[chainId]
	if !ok {
		return TokenConfig{}, false
	}
	return chain.Token(address)
}

type StrategyConfig struct {
	MinProfitBps      int64
	MinDeadlineMargin time.Duration
	// MaxGasPrice in wei, nil means no cap.
	MaxGasPrice *big.Int
	// MaxIntentSize in USD, zero means no cap.
	MaxIntentSize decimal.Decimal
}

type SettlementConfig struct {
	ConfirmationDepth  uint64
	FillMaxAttempts    int
	SettleMaxAttempts  int
	RetryBackoff       time.Duration
	SettleTimeout      time.Duration
	ConfirmTimeout     time.Duration
	PollInterval       time.Duration
	MaxConcurrentFills int64
}

type AttestationConfig struct {
	EpochWidth    time.Duration
	MaxReceiptAge uint64
}

type WatcherConfig struct {
	PollInterval  time.Duration
	MaxBlockRange uint64
	MaxBackoff    time.Duration
}

type AgentConfig struct {
	Strategy    StrategyConfig
	Settlement  SettlementConfig
	Attestation AttestationConfig
	Watcher     WatcherConfig

	RevealDelay         time.Duration
	RevealWindow        time.Duration
	EvaluationInterval  time.Duration
	SweepInterval       time.Duration
	RebalanceInterval   time.Duration
	AggregationInterval time.Duration
}

// Verification is the outcome of a receipt check.
type Verification struct {
	Valid   bool                `json:"valid"`
	Errors  []string            `json:"errors"`
	Details VerificationDetails `json:"details"`
}

type VerificationDetails struct {
	EpochValid     bool `json:"epochValid"`
	SenderValid    bool `json:"senderValid"`
	ReceiverValid  bool `json:"receiverValid"`
	SignatureValid bool `json:"signatureValid"`
	HashValid      bool `json:"hashValid"`
}

type Decision struct {
	OrderId           string
	Accept            bool
	ExpectedProfitBps int64
	Reason            domain.RejectReason
	ProfitUsd         decimal.Decimal
}

// Candidate is an accepted intent waiting for liquidity and a commitment.
type Candidate struct {
	Intent   domain.Intent
	Decision Decision
}

// RebalanceAdvice suggests moving Deficit units of a token towards a chain.
type RebalanceAdvice struct {
	Chain     uint64
	Token     string
	Symbol    string
	Available *big.Int
	Target    *big.Int
	Deficit   *big.Int
	Share     decimal.Decimal
}

type noopMetrics struct{}

func (noopMetrics) IntentDiscovered(uint64)                                     {}
func (noopMetrics) IntentTransitioned(domain.IntentStatus, domain.IntentStatus) {}
func (noopMetrics) DecisionMade(bool, domain.RejectReason)                      {}
func (noopMetrics) ReservationAttempted(uint64, string, bool)                   {}
func (noopMetrics) SettlementFinished(domain.SettlementStage)                   {}
func (noopMetrics) ReceiptProcessed(string)                                     {}
func (noopMetrics) WatcherHeight(uint64, uint64)                                {}
func (noopMetrics) RpcError(uint64)                                             {}

func metricsOrNoop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
