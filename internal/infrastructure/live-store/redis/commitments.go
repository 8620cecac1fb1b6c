package redislivestore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

const commitmentDeadlinesKey = "commitment:deadlines"

// commitmentStore is the coordination point between solvers sharing the same
// redis: SETNX grants a single pending commitment per order and DEL tells
// exactly one consumer it removed it.
type commitmentStore struct {
	rdb         *redis.Client
	commitments *KVStore[domain.Commitment]
}

func NewCommitmentStore(rdb *redis.Client) ports.CommitmentStore {
	return &commitmentStore{
		rdb:         rdb,
		commitments: NewRedisKVStore[domain.Commitment](rdb, "commitment:"),
	}
}

func (s *commitmentStore) Add(ctx context.Context, commitment domain.Commitment) error {
	ok, err := s.commitments.SetNX(ctx, commitment.OrderId, &commitment)
	if err != nil {
		return fmt.Errorf("failed to add commitment: %w", err)
	}
	if !ok {
		return ports.ErrCommitmentExists
	}
	if err := s.rdb.ZAdd(ctx, commitmentDeadlinesKey, redis.Z{
		Score:  float64(commitment.RevealDeadline.Unix()),
		Member: commitment.OrderId,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index commitment deadline: %w", err)
	}
	return nil
}

func (s *commitmentStore) Get(ctx context.Context, orderId string) (*domain.Commitment, error) {
	return s.commitments.Get(ctx, orderId)
}

func (s *commitmentStore) Delete(ctx context.Context, orderId string) (bool, error) {
	deleted, err := s.commitments.Delete(ctx, orderId)
	if err != nil {
		return false, fmt.Errorf("failed to delete commitment: %w", err)
	}
	if err := s.rdb.ZRem(ctx, commitmentDeadlinesKey, orderId).Err(); err != nil {
		return deleted, fmt.Errorf("failed to unindex commitment deadline: %w", err)
	}
	return deleted, nil
}

func (s *commitmentStore) ListExpired(
	ctx context.Context, now time.Time,
) ([]domain.Commitment, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, commitmentDeadlinesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get expiring commitments: %w", err)
	}

	stored, _, err := s.commitments.GetMulti(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get commitments: %w", err)
	}
	expired := make([]domain.Commitment, 0, len(stored))
	for _, commitment := range stored {
		if commitment.IsExpired(now) {
			expired = append(expired, *commitment)
		}
	}
	return expired, nil
}
