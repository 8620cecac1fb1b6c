package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
)

const selectSettlement = `
	SELECT order_id, source_chain, destination_chain, stage, fill_tx_hash, fill_block,
		settle_tx_hash, settle_attempts, last_error, created_at, updated_at
	FROM settlement`

type settlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(config ...interface{}) (domain.SettlementRepository, error) {
	db, err := openFromConfig("settlement", config...)
	if err != nil {
		return nil, err
	}
	return &settlementRepository{db}, nil
}

func (r *settlementRepository) Get(
	ctx context.Context, orderId string,
) (*domain.SettlementRecord, error) {
	row := r.db.QueryRowContext(ctx, selectSettlement+" WHERE order_id = ?", orderId)
	record, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement of order %s: %w", orderId, err)
	}
	return record, nil
}

func (r *settlementRepository) Upsert(ctx context.Context, record domain.SettlementRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settlement (
			order_id, source_chain, destination_chain, stage, fill_tx_hash, fill_block,
			settle_tx_hash, settle_attempts, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			stage = excluded.stage,
			fill_tx_hash = excluded.fill_tx_hash,
			fill_block = excluded.fill_block,
			settle_tx_hash = excluded.settle_tx_hash,
			settle_attempts = excluded.settle_attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		record.OrderId, int64(record.SourceChain), int64(record.DestinationChain),
		string(record.Stage), record.FillTxHash, int64(record.FillBlock), record.SettleTxHash,
		record.SettleAttempts, record.LastError, record.CreatedAt.UnixMilli(),
		record.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert settlement of order %s: %w", record.OrderId, err)
	}
	return nil
}

func (r *settlementRepository) GetByStage(
	ctx context.Context, stage domain.SettlementStage,
) ([]domain.SettlementRecord, error) {
	rows, err := r.db.QueryContext(
		ctx, selectSettlement+" WHERE stage = ? ORDER BY created_at", string(stage),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlements in stage %s: %w", stage, err)
	}
	// nolint
	defer rows.Close()

	records := make([]domain.SettlementRecord, 0)
	for rows.Next() {
		record, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (r *settlementRepository) Close() {
	_ = r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSettlement(row scanner) (*domain.SettlementRecord, error) {
	var (
		record                            domain.SettlementRecord
		stage                             string
		sourceChain, destChain, fillBlock int64
		createdAt, updatedAt              int64
	)
	if err := row.Scan(
		&record.OrderId, &sourceChain, &destChain, &stage, &record.FillTxHash, &fillBlock,
		&record.SettleTxHash, &record.SettleAttempts, &record.LastError, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	record.SourceChain = uint64(sourceChain)
	record.DestinationChain = uint64(destChain)
	record.FillBlock = uint64(fillBlock)
	record.Stage = domain.SettlementStage(stage)
	record.CreatedAt = time.UnixMilli(createdAt)
	record.UpdatedAt = time.UnixMilli(updatedAt)
	return &record, nil
}
