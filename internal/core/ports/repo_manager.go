package ports

import "github.com/arkade-os/solverd/internal/core/domain"

type RepoManager interface {
	Events() domain.EventRepository
	Checkpoints() domain.CheckpointRepository
	Liquidity() domain.LiquidityRepository
	Receipts() domain.ReceiptRepository
	Settlements() domain.SettlementRepository
	Close()
}
