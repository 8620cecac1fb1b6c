package application

import (
	"math/big"
	"testing"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	inmemorylivestore "github.com/arkade-os/solverd/internal/infrastructure/live-store/inmemory"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testAgent struct {
	*service
	origin      *mockChainClient
	destination *mockChainClient
	scheduler   *fakeScheduler
	repos       *fakeRepoManager
}

func newTestAgent(t *testing.T, cfg AgentConfig) *testAgent {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	origin := newMockChainClient(originChain)
	destination := newMockChainClient(destinationChain)
	destination.On("SuggestGasPrice", mock.Anything).Return(gwei, nil)

	scheduler := &fakeScheduler{}
	repos := newFakeRepoManager()
	svc, err := NewService(
		cfg, testChainConfigs(),
		map[uint64]ports.ChainClient{originChain: origin, destinationChain: destination},
		key, repos, inmemorylivestore.NewLiveStore(0), scheduler, nil,
		&fakeOracle{prices: testPrices()}, nil, nil,
	)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)

	agent := &testAgent{svc.(*service), origin, destination, scheduler, repos}
	agent.liquidity.SetAvailable(destinationChain, destinationUsdc, big.NewInt(1_000_000_000))
	return agent
}

func testAgentConfig() AgentConfig {
	return AgentConfig{
		Strategy:    StrategyConfig{MinProfitBps: 10, MinDeadlineMargin: time.Minute},
		Settlement:  testSettlementConfig(),
		Attestation: AttestationConfig{EpochWidth: time.Hour, MaxReceiptAge: 24},
		RevealDelay: 0,
	}
}

func TestNewServiceValidation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	clients := map[uint64]ports.ChainClient{
		originChain:      newMockChainClient(originChain),
		destinationChain: newMockChainClient(destinationChain),
	}
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute

	_, err = NewService(
		cfg, testChainConfigs(), clients, nil, newFakeRepoManager(),
		inmemorylivestore.NewLiveStore(0), &fakeScheduler{}, nil, &fakeOracle{}, nil, nil,
	)
	require.Error(t, err)

	_, err = NewService(
		cfg, testChainConfigs()[:1], clients, key, newFakeRepoManager(),
		inmemorylivestore.NewLiveStore(0), &fakeScheduler{}, nil, &fakeOracle{}, nil, nil,
	)
	require.Error(t, err)

	cfg.RevealDelay = 2 * time.Minute
	_, err = NewService(
		cfg, testChainConfigs(), clients, key, newFakeRepoManager(),
		inmemorylivestore.NewLiveStore(0), &fakeScheduler{}, nil, &fakeOracle{}, nil, nil,
	)
	require.Error(t, err)
}

func TestServiceLateRevealReleasesReservation(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = 10 * time.Millisecond
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)

	agent.evaluate()

	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentCommitted, got.Status)
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 99_500_000, 1_000_000_000, 0)

	// miss the reveal window
	time.Sleep(20 * time.Millisecond)
	agent.scheduler.runAll()

	got, err = agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentAccepted, got.Status)
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000, 0)
	agent.destination.AssertNotCalled(t, "Fill")

	// a late sweep finds nothing left to release
	agent.sweep()
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000, 0)
}

func TestServiceRejectsUnprofitableIntent(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	cfg.Strategy.MinProfitBps = 50
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)

	agent.evaluate()

	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentRejected, got.Status)
	require.Equal(t, domain.ReasonInsufficientProfit, got.RejectReason)
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000, 0)
}

func TestServiceInsufficientLiquidity(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)
	agent.liquidity.SetAvailable(destinationChain, destinationUsdc, big.NewInt(10_000_000))
	ctx := t.Context()

	intent := testIntent(t)
	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)

	agent.evaluate()

	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentRejected, got.Status)
	require.Equal(t, domain.ReasonInsufficientLiquidity, got.RejectReason)
}

func TestServiceFillAndSettle(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	agent.origin.On("GetOrder", mock.Anything, intent.OrderId).Return(ports.OrderOpen, nil)
	agent.destination.On("IsFilled", mock.Anything, intent.OrderId).Return(false, nil)
	agent.destination.On(
		"Fill", mock.Anything, intent.OrderId, intent.OutputToken, intent.OutputAmount,
		intent.Recipient,
	).Return(fillTxHash, nil)
	agent.destination.On("WaitForConfirmation", mock.Anything, fillTxHash, uint64(2)).
		Return(&ports.TxConfirmation{TxHash: fillTxHash, BlockNumber: 100, Success: true}, nil)
	agent.origin.On("CanSettle", mock.Anything, intent.OrderId).Return(true, nil)
	agent.origin.On("Settle", mock.Anything, intent.OrderId).Return(settleTxHash, nil)
	agent.origin.On("WaitForConfirmation", mock.Anything, settleTxHash, uint64(2)).
		Return(&ports.TxConfirmation{TxHash: settleTxHash, BlockNumber: 50, Success: true}, nil)

	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)

	agent.evaluate()
	agent.scheduler.runAll()

	require.Eventually(t, func() bool {
		got, err := agent.GetIntent(ctx, intent.OrderId)
		return err == nil && got.Status == domain.IntentSettled
	}, 2*time.Second, 10*time.Millisecond)

	requirePosition(
		t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000-99_500_000, 99_500_000,
	)
	agent.destination.AssertNumberOfCalls(t, "Fill", 1)

	require.Eventually(t, func() bool {
		return len(agent.ledger.Pending(testUser)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	aggregated, err := agent.AggregateReceipts(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, aggregated.ReceiptIds, 1)
	require.Equal(t, 1, agent.repos.events.count(domain.EventIntentDiscovered))
}

func TestServiceSettlementPartialFailure(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	agent.origin.On("GetOrder", mock.Anything, intent.OrderId).Return(ports.OrderOpen, nil)
	agent.destination.On("IsFilled", mock.Anything, intent.OrderId).Return(false, nil)
	agent.destination.On(
		"Fill", mock.Anything, intent.OrderId, intent.OutputToken, intent.OutputAmount,
		intent.Recipient,
	).Return(fillTxHash, nil)
	agent.destination.On("WaitForConfirmation", mock.Anything, fillTxHash, uint64(2)).
		Return(&ports.TxConfirmation{TxHash: fillTxHash, BlockNumber: 100, Success: true}, nil)
	agent.origin.On("CanSettle", mock.Anything, intent.OrderId).Return(true, nil)
	agent.origin.On("Settle", mock.Anything, intent.OrderId).Return(settleTxHash, nil)
	// both settle attempts revert, the operator reconciliation goes through
	agent.origin.On("WaitForConfirmation", mock.Anything, settleTxHash, uint64(2)).
		Return(&ports.TxConfirmation{TxHash: settleTxHash, BlockNumber: 50, Success: false}, nil).
		Times(cfg.Settlement.SettleMaxAttempts)
	agent.origin.On("WaitForConfirmation", mock.Anything, settleTxHash, uint64(2)).
		Return(&ports.TxConfirmation{TxHash: settleTxHash, BlockNumber: 51, Success: true}, nil).
		Once()

	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)

	agent.evaluate()
	agent.scheduler.runAll()

	require.Eventually(t, func() bool {
		got, err := agent.GetIntent(ctx, intent.OrderId)
		return err == nil && got.Status == domain.IntentSettlementPending
	}, 2*time.Second, 10*time.Millisecond)
	agent.wg.Wait()

	// the fill went out, so the tokens count as spent
	requirePosition(
		t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000-99_500_000, 99_500_000,
	)
	agent.origin.AssertNumberOfCalls(t, "Settle", cfg.Settlement.SettleMaxAttempts)

	// the sweep neither fails nor resubmits the order
	agent.sweep()
	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentSettlementPending, got.Status)
	agent.origin.AssertNumberOfCalls(t, "Settle", cfg.Settlement.SettleMaxAttempts)
	agent.destination.AssertNumberOfCalls(t, "Fill", 1)

	pending, err := agent.PendingReconciliations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	record, err := agent.Reconcile(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.StageSettled, record.Stage)

	got, err = agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentSettled, got.Status)
	require.Len(t, agent.ledger.Pending(testUser), 1)
}

func TestServiceRevealMismatch(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)

	agent.evaluate()
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 99_500_000, 1_000_000_000, 0)

	// same fill parameters under another nonce
	agent.reveal(domain.Reveal{
		OrderId: intent.OrderId,
		Nonce:   randomOrderId(t),
		FillParams: domain.FillParams{
			DestinationChain: intent.DestinationChain,
			Token:            intent.OutputToken,
			Amount:           intent.OutputAmount,
			Recipient:        intent.Recipient,
		},
	})

	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentAccepted, got.Status)
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000, 0)

	// the commitment is gone, so the genuine reveal finds nothing to open
	agent.scheduler.runAll()
	got, err = agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentAccepted, got.Status)
	agent.destination.AssertNotCalled(
		t, "Fill", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
	)
}

func TestServiceSweepKeepsInFlightExecution(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	intent.FillDeadline = time.Now().Add(100 * time.Millisecond)
	confirmFill := make(chan struct{})

	agent.origin.On("GetOrder", mock.Anything, intent.OrderId).Return(ports.OrderOpen, nil)
	agent.destination.On("IsFilled", mock.Anything, intent.OrderId).Return(false, nil)
	agent.destination.On(
		"Fill", mock.Anything, intent.OrderId, intent.OutputToken, intent.OutputAmount,
		intent.Recipient,
	).Return(fillTxHash, nil)
	agent.destination.On("WaitForConfirmation", mock.Anything, fillTxHash, uint64(2)).
		Run(func(mock.Arguments) { <-confirmFill }).
		Return(&ports.TxConfirmation{TxHash: fillTxHash, BlockNumber: 100, Success: true}, nil)
	agent.origin.On("CanSettle", mock.Anything, intent.OrderId).Return(true, nil)
	agent.origin.On("Settle", mock.Anything, intent.OrderId).Return(settleTxHash, nil)
	agent.origin.On("WaitForConfirmation", mock.Anything, settleTxHash, uint64(2)).
		Return(&ports.TxConfirmation{TxHash: settleTxHash, BlockNumber: 50, Success: true}, nil)

	_, err := agent.registry.Upsert(ctx, intent)
	require.NoError(t, err)
	for _, step := range [][2]domain.IntentStatus{
		{domain.IntentDiscovered, domain.IntentAccepted},
		{domain.IntentAccepted, domain.IntentCommitted},
		{domain.IntentCommitted, domain.IntentRevealed},
	} {
		_, err := agent.registry.Transition(ctx, intent.OrderId, step[0], step[1])
		require.NoError(t, err)
	}
	require.True(t, agent.reserve(intent))
	revealed, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	agent.goExecute(*revealed)

	require.Eventually(t, func() bool {
		record, err := agent.repos.settlements.Get(ctx, domain.NormalizeOrderId(intent.OrderId))
		return err == nil && record != nil && record.Stage == domain.StageFillSubmitted
	}, 2*time.Second, 10*time.Millisecond)

	// the fill deadline passes while the fill tx is pending
	time.Sleep(time.Until(intent.FillDeadline) + 10*time.Millisecond)
	agent.sweep()

	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentRevealed, got.Status)
	requirePosition(t, agent.liquidity, destinationChain, destinationUsdc, 99_500_000, 1_000_000_000, 0)

	close(confirmFill)

	require.Eventually(t, func() bool {
		got, err := agent.GetIntent(ctx, intent.OrderId)
		return err == nil && got.Status == domain.IntentSettled
	}, 2*time.Second, 10*time.Millisecond)
	requirePosition(
		t, agent.liquidity, destinationChain, destinationUsdc, 0, 1_000_000_000-99_500_000, 99_500_000,
	)
	require.Eventually(t, func() bool {
		return len(agent.ledger.Pending(testUser)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceWatcherRegistersIntents(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)
	ctx := t.Context()

	intent := testIntent(t)
	openLog := ports.ChainLog{ChainId: originChain, BlockNumber: 100}
	agent.origin.On("BlockNumber", mock.Anything).Return(uint64(100), nil)
	agent.origin.On("FilterOpenLogs", mock.Anything, uint64(100), uint64(100)).
		Return([]ports.ChainLog{openLog}, nil)
	agent.origin.On("DecodeOpenLog", openLog).Return(&intent, nil)

	require.NoError(t, agent.watchers[0].Poll(ctx))

	// the intent is registered by the time the checkpoint moves past it
	height, found, err := agent.repos.checkpoints.Get(ctx, originChain)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 100, height)

	got, err := agent.GetIntent(ctx, intent.OrderId)
	require.NoError(t, err)
	require.Equal(t, domain.IntentDiscovered, got.Status)
	require.Equal(t, 1, agent.repos.events.count(domain.EventIntentDiscovered))
}

func TestServiceStopRefusesExecutions(t *testing.T) {
	cfg := testAgentConfig()
	cfg.RevealWindow = time.Minute
	agent := newTestAgent(t, cfg)

	intent := testIntent(t)
	intent.Status = domain.IntentRevealed

	agent.Stop()
	agent.goExecute(intent)
	agent.wg.Wait()

	agent.origin.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
	agent.destination.AssertNotCalled(
		t, "Fill", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
	)

	// stopping twice is harmless
	agent.Stop()
}
