package application

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

type mockChainClient struct {
	mock.Mock
	chainId uint64
	solver  string
}

func newMockChainClient(chainId uint64) *mockChainClient {
	return &mockChainClient{
		chainId: chainId,
		solver:  "0x00000000000000000000000000000000000000f0",
	}
}

func (m *mockChainClient) ChainId() uint64       { return m.chainId }
func (m *mockChainClient) SolverAddress() string { return m.solver }
func (m *mockChainClient) Close()                {}

func (m *mockChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockChainClient) FilterOpenLogs(
	ctx context.Context, fromBlock, toBlock uint64,
) ([]ports.ChainLog, error) {
	args := m.Called(ctx, fromBlock, toBlock)
	var logs []ports.ChainLog
	if res := args.Get(0); res != nil {
		logs = res.([]ports.ChainLog)
	}
	return logs, args.Error(1)
}

func (m *mockChainClient) DecodeOpenLog(log ports.ChainLog) (*domain.Intent, error) {
	args := m.Called(log)
	var intent *domain.Intent
	if res := args.Get(0); res != nil {
		intent = res.(*domain.Intent)
	}
	return intent, args.Error(1)
}

func (m *mockChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	var price *big.Int
	if res := args.Get(0); res != nil {
		price = res.(*big.Int)
	}
	return price, args.Error(1)
}

func (m *mockChainClient) TokenBalance(ctx context.Context, token string) (*big.Int, error) {
	args := m.Called(ctx, token)
	var balance *big.Int
	if res := args.Get(0); res != nil {
		balance = res.(*big.Int)
	}
	return balance, args.Error(1)
}

func (m *mockChainClient) IsFilled(ctx context.Context, orderId string) (bool, error) {
	args := m.Called(ctx, orderId)
	return args.Bool(0), args.Error(1)
}

func (m *mockChainClient) Fill(
	ctx context.Context, orderId, token string, amount *big.Int, recipient string,
) (string, error) {
	args := m.Called(ctx, orderId, token, amount, recipient)
	return args.String(0), args.Error(1)
}

func (m *mockChainClient) GetOrder(ctx context.Context, orderId string) (ports.OrderStatus, error) {
	args := m.Called(ctx, orderId)
	return args.Get(0).(ports.OrderStatus), args.Error(1)
}

func (m *mockChainClient) CanSettle(ctx context.Context, orderId string) (bool, error) {
	args := m.Called(ctx, orderId)
	return args.Bool(0), args.Error(1)
}

func (m *mockChainClient) Settle(ctx context.Context, orderId string) (string, error) {
	args := m.Called(ctx, orderId)
	return args.String(0), args.Error(1)
}

func (m *mockChainClient) WaitForConfirmation(
	ctx context.Context, txHash string, confirmations uint64,
) (*ports.TxConfirmation, error) {
	args := m.Called(ctx, txHash, confirmations)
	var conf *ports.TxConfirmation
	if res := args.Get(0); res != nil {
		conf = res.(*ports.TxConfirmation)
	}
	return conf, args.Error(1)
}

type fakeSettlementRepo struct {
	lock    sync.Mutex
	records map[string]domain.SettlementRecord
}

func newFakeSettlementRepo() *fakeSettlementRepo {
	return &fakeSettlementRepo{records: make(map[string]domain.SettlementRecord)}
}

func (r *fakeSettlementRepo) Get(_ context.Context, orderId string) (*domain.SettlementRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	record, ok := r.records[orderId]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (r *fakeSettlementRepo) Upsert(_ context.Context, record domain.SettlementRecord) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.records[record.OrderId] = record
	return nil
}

func (r *fakeSettlementRepo) GetByStage(
	_ context.Context, stage domain.SettlementStage,
) ([]domain.SettlementRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	records := make([]domain.SettlementRecord, 0)
	for _, record := range r.records {
		if record.Stage == stage {
			records = append(records, record)
		}
	}
	return records, nil
}

func (r *fakeSettlementRepo) Close() {}

type fakeReceiptRepo struct {
	lock sync.Mutex
	used map[string]struct{}
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{used: make(map[string]struct{})}
}

func (r *fakeReceiptRepo) MarkUsed(_ context.Context, ids []string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, id := range ids {
		r.used[id] = struct{}{}
	}
	return nil
}

func (r *fakeReceiptRepo) AnyUsed(_ context.Context, ids []string) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	used := make([]string, 0)
	for _, id := range ids {
		if _, ok := r.used[id]; ok {
			used = append(used, id)
		}
	}
	return used, nil
}

func (r *fakeReceiptRepo) Close() {}

type fakeCheckpointRepo struct {
	lock    sync.Mutex
	heights map[uint64]uint64
}

func newFakeCheckpointRepo() *fakeCheckpointRepo {
	return &fakeCheckpointRepo{heights: make(map[uint64]uint64)}
}

func (r *fakeCheckpointRepo) Get(_ context.Context, chainId uint64) (uint64, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	height, ok := r.heights[chainId]
	return height, ok, nil
}

func (r *fakeCheckpointRepo) Upsert(_ context.Context, chainId uint64, height uint64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.heights[chainId] = height
	return nil
}

func (r *fakeCheckpointRepo) Close() {}

type fakeLiquidityRepo struct {
	lock      sync.Mutex
	positions []domain.LiquidityPosition
}

func (r *fakeLiquidityRepo) UpsertPositions(
	_ context.Context, positions []domain.LiquidityPosition,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.positions = positions
	return nil
}

func (r *fakeLiquidityRepo) GetPositions(_ context.Context) ([]domain.LiquidityPosition, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.positions, nil
}

func (r *fakeLiquidityRepo) Close() {}

type fakeEventRepo struct {
	lock   sync.Mutex
	events []domain.IntentEvent
}

func (r *fakeEventRepo) Save(_ context.Context, _ string, events ...domain.IntentEvent) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *fakeEventRepo) RegisterEventsHandler(string, func([]domain.IntentEvent)) {}
func (r *fakeEventRepo) ClearRegisteredHandlers(...string)                        {}
func (r *fakeEventRepo) Close()                                                   {}

func (r *fakeEventRepo) count(eventType domain.EventType) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	count := 0
	for _, e := range r.events {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

type fakeRepoManager struct {
	events      *fakeEventRepo
	checkpoints *fakeCheckpointRepo
	liquidity   *fakeLiquidityRepo
	receipts    *fakeReceiptRepo
	settlements *fakeSettlementRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		events:      &fakeEventRepo{},
		checkpoints: newFakeCheckpointRepo(),
		liquidity:   &fakeLiquidityRepo{},
		receipts:    newFakeReceiptRepo(),
		settlements: newFakeSettlementRepo(),
	}
}

func (m *fakeRepoManager) Events() domain.EventRepository           { return m.events }
func (m *fakeRepoManager) Checkpoints() domain.CheckpointRepository { return m.checkpoints }
func (m *fakeRepoManager) Liquidity() domain.LiquidityRepository    { return m.liquidity }
func (m *fakeRepoManager) Receipts() domain.ReceiptRepository       { return m.receipts }
func (m *fakeRepoManager) Settlements() domain.SettlementRepository { return m.settlements }
func (m *fakeRepoManager) Close()                                   {}

// fakeScheduler keeps the one-shot tasks so that tests can run them at will.
type fakeScheduler struct {
	lock  sync.Mutex
	tasks []func()
}

func (s *fakeScheduler) Start() {}
func (s *fakeScheduler) Stop()  {}

func (s *fakeScheduler) ScheduleTaskOnce(_ time.Time, task func()) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *fakeScheduler) ScheduleRecurring(time.Duration, func()) error { return nil }

func (s *fakeScheduler) runAll() {
	s.lock.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.lock.Unlock()
	for _, task := range tasks {
		task()
	}
}

type fakeOracle struct {
	lock   sync.Mutex
	prices ports.Prices
}

func (o *fakeOracle) Prices(context.Context) (ports.Prices, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.prices, nil
}

func (o *fakeOracle) Update(_ context.Context, prices ports.Prices) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	for symbol, price := range prices {
		o.prices[symbol] = price
	}
	return nil
}
