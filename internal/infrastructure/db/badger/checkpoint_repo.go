package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const checkpointStoreDir = "checkpoints"

type checkpoint struct {
	ChainId   uint64
	Height    uint64
	UpdatedAt time.Time
}

type checkpointRepository struct {
	store *badgerhold.Store
}

func NewCheckpointRepository(config ...interface{}) (domain.CheckpointRepository, error) {
	dir, logger, err := parseConfig(checkpointStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %s", err)
	}
	return &checkpointRepository{store}, nil
}

func (r *checkpointRepository) Get(_ context.Context, chainId uint64) (uint64, bool, error) {
	var cp checkpoint
	err := r.store.Get(chainId, &cp)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint of chain %d: %w", chainId, err)
	}
	return cp.Height, true, nil
}

func (r *checkpointRepository) Upsert(_ context.Context, chainId uint64, height uint64) error {
	cp := checkpoint{ChainId: chainId, Height: height, UpdatedAt: time.Now()}
	if err := upsertWithRetry(r.store, chainId, &cp); err != nil {
		return fmt.Errorf("failed to upsert checkpoint of chain %d: %w", chainId, err)
	}
	return nil
}

func (r *checkpointRepository) Close() {
	// nolint:all
	r.store.Close()
}
