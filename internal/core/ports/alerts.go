package ports

import "context"

const (
	SettlementPending  Topic = "Settlement Pending"
	RebalanceRequired  Topic = "Rebalance Required"
	DoubleSpendReceipt Topic = "Double Spend Receipt"
)

type Topic string

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message interface{}) error
}

type SettlementPendingAlert struct {
	OrderId          string
	SourceChain      uint64
	DestinationChain uint64
	FillTxHash       string
	Attempts         int
	LastError        string
}

type RebalanceAlert struct {
	Chain     uint64
	Token     string
	Symbol    string
	Available string
	Target    string
	Deficit   string
	Share     string
}

type DoubleSpendAlert struct {
	ReceiptId string
	Sender    string
	Receiver  string
}
