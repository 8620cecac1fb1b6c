package badgerdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const liquidityStoreDir = "liquidity"

type liquidityRepository struct {
	store *badgerhold.Store
}

func NewLiquidityRepository(config ...interface{}) (domain.LiquidityRepository, error) {
	dir, logger, err := parseConfig(liquidityStoreDir, config...)
	if err != nil {
		return nil, err
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open liquidity store: %s", err)
	}
	return &liquidityRepository{store}, nil
}

func (r *liquidityRepository) UpsertPositions(
	_ context.Context, positions []domain.LiquidityPosition,
) error {
	for _, p := range positions {
		position := p.Clone()
		if err := upsertWithRetry(r.store, position.Key(), &position); err != nil {
			return fmt.Errorf("failed to upsert position %s: %w", position.Key(), err)
		}
	}
	return nil
}

func (r *liquidityRepository) GetPositions(_ context.Context) ([]domain.LiquidityPosition, error) {
	positions := make([]domain.LiquidityPosition, 0)
	if err := r.store.Find(&positions, nil); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	// gob skips zero amounts, restore them
	for i := range positions {
		positions[i] = positions[i].Clone()
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Chain != positions[j].Chain {
			return positions[i].Chain < positions[j].Chain
		}
		return positions[i].Token < positions[j].Token
	})
	return positions, nil
}

func (r *liquidityRepository) Close() {
	// nolint:all
	r.store.Close()
}
