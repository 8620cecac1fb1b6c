package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
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
	now := time.Now().Unix()
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(
				ctx, "INSERT OR IGNORE INTO used_receipt (id, used_at) VALUES (?, ?)", id, now,
			); err != nil {
				return fmt.Errorf("failed to mark receipt %s as used: %w", id, err)
			}
		}
		return nil
	})
}

func (r *receiptRepository) AnyUsed(ctx context.Context, ids []string) ([]string, error) {
	used := make([]string, 0)
	if len(ids) == 0 {
		return used, nil
	}

	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"SELECT id FROM used_receipt WHERE id IN (%s) ORDER BY id", placeholders(len(ids)),
	)
	rows, err := r.db.QueryContext(ctx, query, args...)
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
