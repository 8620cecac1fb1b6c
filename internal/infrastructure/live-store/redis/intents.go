package redislivestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	intentStatusKeyPrefix = "intent:status:"
	DefaultRetention      = 24 * time.Hour
)

// intentStore keeps every intent under its own key and its order id in the
// set of its status. Terminal intents get a ttl, their ids are dropped from
// the status sets lazily once the key is gone.
type intentStore struct {
	rdb          *redis.Client
	intents      *KVStore[domain.Intent]
	numOfRetries int
	retryDelay   time.Duration
	retention    time.Duration
}

func NewIntentStore(rdb *redis.Client, numOfRetries int, retention time.Duration) ports.IntentStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &intentStore{
		rdb:          rdb,
		intents:      NewRedisKVStore[domain.Intent](rdb, "intent:"),
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
		retention:    retention,
	}
}

func (s *intentStore) Add(ctx context.Context, intent domain.Intent) (bool, error) {
	created := false
	err := s.watch(ctx, intent.OrderId, func(tx *redis.Tx) error {
		created = false
		exists, err := tx.Exists(ctx, s.intents.Key(intent.OrderId)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}

		// the intent and its index entry are written in one MULTI
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := s.intents.SetPipe(
				ctx, pipe, intent.OrderId, &intent, s.ttl(intent.Status),
			); err != nil {
				return err
			}
			pipe.SAdd(ctx, statusKey(intent.Status), intent.OrderId)
			return nil
		}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to add intent: %w", err)
	}
	return created, nil
}

func (s *intentStore) Get(ctx context.Context, orderId string) (*domain.Intent, error) {
	return s.intents.Get(ctx, orderId)
}

func (s *intentStore) CompareAndSwap(
	ctx context.Context, orderId string, from, to domain.IntentStatus,
	reason domain.RejectReason,
) (*domain.Intent, error) {
	var updated *domain.Intent
	err := s.watch(ctx, orderId, func(tx *redis.Tx) error {
		intent, err := s.intents.GetTx(ctx, tx, orderId)
		if err != nil {
			return err
		}
		if intent == nil {
			return ports.ErrIntentNotFound
		}
		if intent.Status != from {
			return &ports.StatusMismatchError{Current: intent.Status}
		}

		intent.Status = to
		intent.RejectReason = reason
		intent.UpdatedAt = time.Now()

		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := s.intents.SetPipe(ctx, pipe, orderId, intent, s.ttl(to)); err != nil {
				return err
			}
			pipe.SMove(ctx, statusKey(from), statusKey(to), orderId)
			return nil
		}); err != nil {
			return err
		}
		updated = intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *intentStore) List(
	ctx context.Context, statuses ...domain.IntentStatus,
) ([]domain.Intent, error) {
	if len(statuses) == 0 {
		statuses = domain.IntentStatuses
	}

	intents := make([]domain.Intent, 0)
	for _, status := range statuses {
		ids, err := s.rdb.SMembers(ctx, statusKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get %s intent ids: %w", status, err)
		}
		stored, missing, err := s.intents.GetMulti(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to get intents: %w", err)
		}
		if len(missing) > 0 {
			// evicted terminal intents
			if err := s.rdb.SRem(ctx, statusKey(status), toAny(missing)...).Err(); err != nil {
				log.WithError(err).Warn("failed to prune evicted intents")
			}
		}
		for _, intent := range stored {
			if intent.Status == status {
				intents = append(intents, *intent)
			}
		}
	}

	sort.SliceStable(intents, func(i, j int) bool {
		if !intents[i].CreatedAt.Equal(intents[j].CreatedAt) {
			return intents[i].CreatedAt.Before(intents[j].CreatedAt)
		}
		return intents[i].OrderId < intents[j].OrderId
	})
	return intents, nil
}

func (s *intentStore) Len(ctx context.Context) (int64, error) {
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(domain.IntentStatuses))
	for _, status := range domain.IntentStatuses {
		if !status.IsTerminal() {
			cmds = append(cmds, pipe.SCard(ctx, statusKey(status)))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return -1, err
	}
	count := int64(0)
	for _, cmd := range cmds {
		count += cmd.Val()
	}
	return count, nil
}

// watch runs fn in a transaction watching the intent key, retrying when the
// key changed concurrently.
func (s *intentStore) watch(ctx context.Context, orderId string, fn func(*redis.Tx) error) error {
	var err error
	for range s.numOfRetries {
		err = s.rdb.Watch(ctx, fn, s.intents.Key(orderId))
		if err == nil || !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		time.Sleep(s.retryDelay)
	}
	log.WithError(err).WithField("order_id", orderId).Warn("intent update kept conflicting")
	return fmt.Errorf("failed to update intent %s after %d attempts: %w", orderId, s.numOfRetries, err)
}

func (s *intentStore) ttl(status domain.IntentStatus) time.Duration {
	if status.IsTerminal() {
		return s.retention
	}
	return 0
}

func statusKey(status domain.IntentStatus) string {
	return intentStatusKeyPrefix + string(status)
}

func toAny(ids []string) []any {
	res := make([]any, 0, len(ids))
	for _, id := range ids {
		res = append(res, id)
	}
	return res
}
