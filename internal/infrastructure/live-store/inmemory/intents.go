package inmemorylivestore

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
)

const DefaultRetention = 24 * time.Hour

type eviction struct {
	orderId string
	at      time.Time
}

type intentStore struct {
	lock      sync.RWMutex
	intents   map[string]*domain.Intent
	byStatus  map[domain.IntentStatus]map[string]struct{}
	retention time.Duration
	// terminal intents in the order they became terminal
	evictions []eviction
}

// NewIntentStore returns a store that forgets terminal intents after the
// given retention, DefaultRetention if not positive.
func NewIntentStore(retention time.Duration) ports.IntentStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	byStatus := make(map[domain.IntentStatus]map[string]struct{}, len(domain.IntentStatuses))
	for _, status := range domain.IntentStatuses {
		byStatus[status] = make(map[string]struct{})
	}
	return &intentStore{
		intents:   make(map[string]*domain.Intent),
		byStatus:  byStatus,
		retention: retention,
	}
}

func (m *intentStore) Add(_ context.Context, intent domain.Intent) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.evict(time.Now())

	if _, ok := m.intents[intent.OrderId]; ok {
		return false, nil
	}
	stored := copyIntent(intent)
	m.intents[intent.OrderId] = &stored
	m.index(&stored)
	return true, nil
}

func (m *intentStore) Get(_ context.Context, orderId string) (*domain.Intent, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	intent, ok := m.intents[orderId]
	if !ok {
		return nil, nil
	}
	res := copyIntent(*intent)
	return &res, nil
}

func (m *intentStore) CompareAndSwap(
	_ context.Context, orderId string, from, to domain.IntentStatus,
	reason domain.RejectReason,
) (*domain.Intent, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	now := time.Now()
	m.evict(now)

	intent, ok := m.intents[orderId]
	if !ok {
		return nil, ports.ErrIntentNotFound
	}
	if intent.Status != from {
		return nil, &ports.StatusMismatchError{Current: intent.Status}
	}

	delete(m.byStatus[intent.Status], orderId)
	intent.Status = to
	intent.RejectReason = reason
	intent.UpdatedAt = now
	m.index(intent)
	res := copyIntent(*intent)
	return &res, nil
}

func (m *intentStore) List(
	_ context.Context, statuses ...domain.IntentStatus,
) ([]domain.Intent, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.evict(time.Now())

	if len(statuses) == 0 {
		statuses = domain.IntentStatuses
	}
	intents := make([]domain.Intent, 0)
	for _, status := range statuses {
		for orderId := range m.byStatus[status] {
			intents = append(intents, copyIntent(*m.intents[orderId]))
		}
	}
	sortIntents(intents)
	return intents, nil
}

func (m *intentStore) Len(_ context.Context) (int64, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	count := int64(0)
	for status, ids := range m.byStatus {
		if !status.IsTerminal() {
			count += int64(len(ids))
		}
	}
	return count, nil
}

func (m *intentStore) index(intent *domain.Intent) {
	if _, ok := m.byStatus[intent.Status]; !ok {
		m.byStatus[intent.Status] = make(map[string]struct{})
	}
	m.byStatus[intent.Status][intent.OrderId] = struct{}{}
	if intent.Status.IsTerminal() {
		since := intent.UpdatedAt
		if since.IsZero() {
			since = time.Now()
		}
		m.evictions = append(m.evictions, eviction{intent.OrderId, since.Add(m.retention)})
	}
}

// evict drops the terminal intents whose retention elapsed.
func (m *intentStore) evict(now time.Time) {
	n := 0
	for ; n < len(m.evictions) && !m.evictions[n].at.After(now); n++ {
		orderId := m.evictions[n].orderId
		if intent, ok := m.intents[orderId]; ok {
			delete(m.byStatus[intent.Status], orderId)
			delete(m.intents, orderId)
		}
	}
	m.evictions = m.evictions[n:]
}

func sortIntents(intents []domain.Intent) {
	sort.SliceStable(intents, func(i, j int) bool {
		if !intents[i].CreatedAt.Equal(intents[j].CreatedAt) {
			return intents[i].CreatedAt.Before(intents[j].CreatedAt)
		}
		return intents[i].OrderId < intents[j].OrderId
	})
}

func copyIntent(intent domain.Intent) domain.Intent {
	if intent.InputAmount != nil {
		intent.InputAmount = new(big.Int).Set(intent.InputAmount)
	}
	if intent.OutputAmount != nil {
		intent.OutputAmount = new(big.Int).Set(intent.OutputAmount)
	}
	return intent
}
