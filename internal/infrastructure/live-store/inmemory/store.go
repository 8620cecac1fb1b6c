package inmemorylivestore

import (
	"time"

	"github.com/arkade-os/solverd/internal/core/ports"
)

type liveStore struct {
	intents     ports.IntentStore
	commitments ports.CommitmentStore
}

func NewLiveStore(intentRetention time.Duration) ports.LiveStore {
	return &liveStore{
		intents:     NewIntentStore(intentRetention),
		commitments: NewCommitmentStore(),
	}
}

func (s *liveStore) Intents() ports.IntentStore {
	return s.intents
}

func (s *liveStore) Commitments() ports.CommitmentStore {
	return s.commitments
}

func (s *liveStore) Close() {}
