package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const settlementStoreDir = "settlements"

type settlementRepository struct {
	store *badgerhold.Store
}

func NewSettlementRepository(config ...interface{}) (domain.SettlementRepository, error) {
	dir, logger, err := parseConfig(settlementStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement store: %s", err)
	}
	return &settlementRepository{store}, nil
}

func (r *settlementRepository) Get(
	_ context.Context, orderId string,
) (*domain.SettlementRecord, error) {
	var record domain.SettlementRecord
	err := r.store.Get(orderId, &record)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement of order %s: %w", orderId, err)
	}
	return &record, nil
}

func (r *settlementRepository) Upsert(_ context.Context, record domain.SettlementRecord) error {
	if err := upsertWithRetry(r.store, record.OrderId, &record); err != nil {
		return fmt.Errorf("failed to upsert settlement of order %s: %w", record.OrderId, err)
	}
	return nil
}

func (r *settlementRepository) GetByStage(
	_ context.Context, stage domain.SettlementStage,
) ([]domain.SettlementRecord, error) {
	records := make([]domain.SettlementRecord, 0)
	query := badgerhold.Where("Stage").Eq(stage)
	if err := r.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get settlements in stage %s: %w", stage, err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *settlementRepository) Close() {
	// nolint:all
	r.store.Close()
}
