package domain

import "context"

type CheckpointRepository interface {
	// Get returns the last confirmed block height scanned for the chain, false if none.
	Get(ctx context.Context, chainId uint64) (uint64, bool, error)
	Upsert(ctx context.Context, chainId uint64, height uint64) error
	Close()
}

type LiquidityRepository interface {
	UpsertPositions(ctx context.Context, positions []LiquidityPosition) error
	GetPositions(ctx context.Context) ([]LiquidityPosition, error)
	Close()
}

type ReceiptRepository interface {
	MarkUsed(ctx context.Context, ids []string) error
	// AnyUsed returns the subset of ids already marked used.
	AnyUsed(ctx context.Context, ids []string) ([]string, error)
	Close()
}

type SettlementRepository interface {
	Get(ctx context.Context, orderId string) (*SettlementRecord, error)
	Upsert(ctx context.Context, record SettlementRecord) error
	GetByStage(ctx context.Context, stage SettlementStage) ([]SettlementRecord, error)
	Close()
}
