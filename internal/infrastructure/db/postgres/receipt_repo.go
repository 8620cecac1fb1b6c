package pgdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/lib/pq"
)

type receiptRepository struct {
	db *sql.DB
}

func NewReceiptRepository(config ...interface{}) (domain.ReceiptRepository, error) {
	db, err := openFromConfig("receipt", config...)
	if err != nil {
		return nil, err
	}
	return &receiptRepository{db}, nil
}

func (r *receiptRepository) MarkUsed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO used_receipt (id, used_at)
		SELECT unnest($1::text[]), $2
		ON CONFLICT (id) DO NOTHING`,
		pq.Array(ids), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark receipts as used: %w", err)
	}
	return nil
}

func (r *receiptRepository) AnyUsed(ctx context.Context, ids []string) ([]string, error) {
	used := make([]string, 0)
	if len(ids) == 0 {
		return used, nil
	}

	rows, err := r.db.QueryContext(
		ctx, "SELECT id FROM used_receipt WHERE id = ANY($1) ORDER BY id", pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get used receipts: %w", err)
	}
	// nolint
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan used receipt: %w", err)
		}
		used = append(used, id)
	}
	return used, rows.Err()
}

func (r *receiptRepository) Close() {
	_ = r.db.Close()
}
