package redislivestore

import (
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type liveStore struct {
	rdb         *redis.Client
	intents     ports.IntentStore
	commitments ports.CommitmentStore
}

func NewLiveStore(rdb *redis.Client, numOfRetries int, intentRetention time.Duration) ports.LiveStore {
	if numOfRetries <= 0 {
		numOfRetries = 1
	}
	return &liveStore{
		rdb:         rdb,
		intents:     NewIntentStore(rdb, numOfRetries, intentRetention),
		commitments: NewCommitmentStore(rdb),
	}
}

func (s *liveStore) Intents() ports.IntentStore {
	return s.intents
}

func (s *liveStore) Commitments() ports.CommitmentStore {
	return s.commitments
}

func (s *liveStore) Close() {
	if err := s.rdb.Close(); err != nil {
		log.WithError(err).Warn("failed to close redis client")
	}
}
