package inmemorylivestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
)

type commitmentStore struct {
	lock        sync.Mutex
	commitments map[string]domain.Commitment
}

func NewCommitmentStore() ports.CommitmentStore {
	return &commitmentStore{
		commitments: make(map[string]domain.Commitment),
	}
}

func (m *commitmentStore) Add(_ context.Context, commitment domain.Commitment) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.commitments[commitment.OrderId]; ok {
		return ports.ErrCommitmentExists
	}
	m.commitments[commitment.OrderId] = commitment
	return nil
}

func (m *commitmentStore) Get(_ context.Context, orderId string) (*domain.Commitment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	commitment, ok := m.commitments[orderId]
	if !ok {
		return nil, nil
	}
	return &commitment, nil
}

func (m *commitmentStore) Delete(_ context.Context, orderId string) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.commitments[orderId]; !ok {
		return false, nil
	}
	delete(m.commitments, orderId)
	return true, nil
}

func (m *commitmentStore) ListExpired(
	_ context.Context, now time.Time,
) ([]domain.Commitment, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	expired := make([]domain.Commitment, 0)
	for _, commitment := range m.commitments {
		if commitment.IsExpired(now) {
			expired = append(expired, commitment)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].RevealDeadline.Before(expired[j].RevealDeadline)
	})
	return expired, nil
}
