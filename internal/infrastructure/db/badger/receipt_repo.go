package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const receiptStoreDir = "receipts"

type usedReceipt struct {
	Id     string
	UsedAt time.Time
}

type receiptRepository struct {
	store *badgerhold.Store
}

func NewReceiptRepository(config ...interface{}) (domain.ReceiptRepository, error) {
	dir, logger, err := parseConfig(receiptStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt store: %s", err)
	}
	return &receiptRepository{store}, nil
}

func (r *receiptRepository) MarkUsed(_ context.Context, ids []string) error {
	now := time.Now()
	for _, id := range ids {
		if err := upsertWithRetry(r.store, id, &usedReceipt{Id: id, UsedAt: now}); err != nil {
			return fmt.Errorf("failed to mark receipt %s as used: %w", id, err)
		}
	}
	return nil
}

func (r *receiptRepository) AnyUsed(_ context.Context, ids []string) ([]string, error) {
	used := make([]string, 0)
	for _, id := range ids {
		var receipt usedReceipt
		err := r.store.Get(id, &receipt)
		if errors.Is(err, badgerhold.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get receipt %s: %w", id, err)
		}
		used = append(used, id)
	}
	return used, nil
}

func (r *receiptRepository) Close() {
	// nolint:all
	r.store.Close()
}
