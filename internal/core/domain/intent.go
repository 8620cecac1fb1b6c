package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

type IntentStatus string

const (
	IntentDiscovered        IntentStatus = "Discovered"
	IntentAccepted          IntentStatus = "Accepted"
	IntentRejected          IntentStatus = "Rejected"
	IntentCommitted         IntentStatus = "Committed"
	IntentRevealed          IntentStatus = "Revealed"
	IntentFilled            IntentStatus = "Filled"
	IntentSettlementPending IntentStatus = "SettlementPending"
	IntentSettled           IntentStatus = "Settled"
	IntentFailed            IntentStatus = "Failed"
	IntentExpired           IntentStatus = "Expired"
)

// IntentStatuses lists every status, in lifecycle order.
var IntentStatuses = []IntentStatus{
	IntentDiscovered, IntentAccepted, IntentRejected, IntentCommitted, IntentRevealed,
	IntentFilled, IntentSettlementPending, IntentSettled, IntentFailed, IntentExpired,
}

// transitions lists the allowed edges of the intent state machine, terminal
// failure edges excluded.
var transitions = map[IntentStatus][]IntentStatus{
	IntentDiscovered:        {IntentAccepted, IntentRejected},
	IntentRejected:          {IntentAccepted},
	IntentAccepted:          {IntentCommitted},
	IntentCommitted:         {IntentRevealed, IntentAccepted},
	IntentRevealed:          {IntentFilled},
	IntentFilled:            {IntentSettled, IntentSettlementPending},
	IntentSettlementPending: {IntentSettled},
}

func (s IntentStatus) IsTerminal() bool {
	return s == IntentSettled || s == IntentFailed || s == IntentExpired
}

// IsFilled tells whether the destination fill already landed. Such intents
// can't expire anymore.
func (s IntentStatus) IsFilled() bool {
	return s == IntentFilled || s == IntentSettlementPending || s == IntentSettled
}

func (s IntentStatus) CanTransitionTo(to IntentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch to {
	case IntentFailed:
		return true
	case IntentExpired:
		return !s.IsFilled()
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type RejectReason string

const (
	ReasonNone                  RejectReason = ""
	ReasonInsufficientProfit    RejectReason = "InsufficientProfit"
	ReasonDeadlineTooClose      RejectReason = "DeadlineTooClose"
	ReasonUnsupportedChainPair  RejectReason = "UnsupportedChainPair"
	ReasonGasPriceTooHigh       RejectReason = "GasPriceTooHigh"
	ReasonIntentTooLarge        RejectReason = "IntentTooLarge"
	ReasonUnknownToken          RejectReason = "UnknownToken"
	ReasonInsufficientLiquidity RejectReason = "InsufficientLiquidity"
)

// Revisitable tells whether a rejection can be reconsidered after a price update.
func (r RejectReason) Revisitable() bool {
	return r == ReasonInsufficientProfit || r == ReasonGasPriceTooHigh
}

type Intent struct {
	OrderId          string
	SourceChain      uint64
	DestinationChain uint64
	User             string
	InputToken       string
	InputAmount      *big.Int
	OutputToken      string
	OutputAmount     *big.Int
	Recipient        string
	OpenDeadline     time.Time
	FillDeadline     time.Time
	Status           IntentStatus
	RejectReason     RejectReason
	BlockNumber      uint64
	TxHash           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NormalizeOrderId lower-cases and 0x-prefixes the given order id.
func NormalizeOrderId(orderId string) string {
	id := strings.ToLower(strings.TrimSpace(orderId))
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return id
}

func (i Intent) Validate() error {
	if len(i.OrderId) != 66 {
		return fmt.Errorf("invalid order id %q", i.OrderId)
	}
	if i.SourceChain == 0 || i.DestinationChain == 0 {
		return fmt.Errorf("missing source or destination chain")
	}
	if i.InputAmount == nil || i.InputAmount.Sign() <= 0 {
		return fmt.Errorf("input amount must be positive")
	}
	if i.OutputAmount == nil || i.OutputAmount.Sign() <= 0 {
		return fmt.Errorf("output amount must be positive")
	}
	if i.FillDeadline.IsZero() {
		return fmt.Errorf("missing fill deadline")
	}
	return nil
}

func (i Intent) IsOverdue(now time.Time) bool {
	return !i.FillDeadline.After(now)
}

func (i Intent) String() string {
	return fmt.Sprintf(
		"%s (%d -> %d, status %s)", i.OrderId, i.SourceChain, i.DestinationChain, i.Status,
	)
}
