package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
)

type liquidityRepository struct {
	db *sql.DB
}

func NewLiquidityRepository(config ...interface{}) (domain.LiquidityRepository, error) {
	db, err := openFromConfig("liquidity", config...)
	if err != nil {
		return nil, err
	}
	return &liquidityRepository{db}, nil
}

func (r *liquidityRepository) UpsertPositions(
	ctx context.Context, positions []domain.LiquidityPosition,
) error {
	txBody := func(tx *sql.Tx) error {
		for _, p := range positions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO liquidity_position (
					chain_id, token, exposure, available, max_exposure, spent, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(chain_id, token) DO UPDATE SET
					exposure = excluded.exposure,
					available = excluded.available,
					max_exposure = excluded.max_exposure,
					spent = excluded.spent,
					updated_at = excluded.updated_at`,
				int64(p.Chain), p.Token, formatAmount(p.Exposure), formatAmount(p.Available),
				formatAmount(p.MaxExposure), formatAmount(p.Spent), p.UpdatedAt.Unix(),
			); err != nil {
				return fmt.Errorf("failed to upsert position %s: %w", p.Key(), err)
			}
		}
		return nil
	}
	return execTx(ctx, r.db, txBody)
}

func (r *liquidityRepository) GetPositions(ctx context.Context) ([]domain.LiquidityPosition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chain_id, token, exposure, available, max_exposure, spent, updated_at
		FROM liquidity_position ORDER BY chain_id, token`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	// nolint
	defer rows.Close()

	positions := make([]domain.LiquidityPosition, 0)
	for rows.Next() {
		var (
			chainId, updatedAt                        int64
			token, exposure, available, maxExp, spent string
		)
		if err := rows.Scan(
			&chainId, &token, &exposure, &available, &maxExp, &spent, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		position := domain.LiquidityPosition{
			Chain:     uint64(chainId),
			Token:     token,
			UpdatedAt: time.Unix(updatedAt, 0),
		}
		if position.Exposure, err = parseAmount(exposure); err != nil {
			return nil, err
		}
		if position.Available, err = parseAmount(available); err != nil {
			return nil, err
		}
		if position.MaxExposure, err = parseAmount(maxExp); err != nil {
			return nil, err
		}
		if position.Spent, err = parseAmount(spent); err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, rows.Err()
}

func (r *liquidityRepository) Close() {
	_ = r.db.Close()
}
