package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
)

type checkpointRepository struct {
	db *sql.DB
}

func NewCheckpointRepository(config ...interface{}) (domain.CheckpointRepository, error) {
	db, err := openFromConfig("checkpoint", config...)
	if err != nil {
		return nil, err
	}
	return &checkpointRepository{db}, nil
}

func (r *checkpointRepository) Get(ctx context.Context, chainId uint64) (uint64, bool, error) {
	var height int64
	err := r.db.QueryRowContext(
		ctx, "SELECT height FROM checkpoint WHERE chain_id = $1", int64(chainId),
	).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint of chain %d: %w", chainId, err)
	}
	return uint64(height), true, nil
}

func (r *checkpointRepository) Upsert(ctx context.Context, chainId uint64, height uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoint (chain_id, height, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT(chain_id) DO UPDATE SET
			height = excluded.height,
			updated_at = excluded.updated_at`,
		int64(chainId), int64(height), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint of chain %d: %w", chainId, err)
	}
	return nil
}

func (r *checkpointRepository) Close() {
	_ = r.db.Close()
}
