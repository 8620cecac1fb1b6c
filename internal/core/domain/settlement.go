package domain

import "time"

type SettlementStage string

const (
	StageFillSubmitted     SettlementStage = "fill-submitted"
	StageFillConfirmed     SettlementStage = "fill-confirmed"
	StageFillFailed        SettlementStage = "fill-failed"
	StageSettleSubmitted   SettlementStage = "settle-submitted"
	StageSettlementPending SettlementStage = "settlement-pending"
	StageSettled           SettlementStage = "settled"
)

// SettlementRecord journals the fill/settle pair of an order. OrderId is the
// idempotency key.
type SettlementRecord struct {
	OrderId          string
	SourceChain      uint64
	DestinationChain uint64
	Stage            SettlementStage
	FillTxHash       string
	FillBlock        uint64
	SettleTxHash     string
	SettleAttempts   int
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r SettlementRecord) FillConfirmed() bool {
	switch r.Stage {
	case StageFillConfirmed, StageSettleSubmitted, StageSettlementPending, StageSettled:
		return true
	}
	return false
}
