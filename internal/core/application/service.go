package application

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type service struct {
	cfg       AgentConfig
	chains    Chains
	clients   map[uint64]ports.ChainClient
	solverKey *ecdsa.PrivateKey
	solver    string

	// services
	repoManager ports.RepoManager
	liveStore   ports.LiveStore
	scheduler   ports.SchedulerService
	alerts      ports.Alerts
	oracle      ports.PriceOracle
	reputation  ports.ReputationLedger
	metrics     ports.Metrics

	registry    *IntentRegistry
	strategy    *StrategyEngine
	liquidity   *LiquidityManager
	coordinator *CommitRevealCoordinator
	executor    *SettlementExecutor
	ledger      *AttestationLedger
	watchers    []*ChainEventWatcher

	pricesUpdated atomic.Bool
	evaluating    sync.Mutex

	reservationsLock sync.Mutex
	reservations     map[string]domain.Reservation

	// stop and background go routine handlers
	stop func()
	ctx  context.Context
	wg   *sync.WaitGroup
	// stopLock orders the executions spawned by scheduled reveals before Stop
	stopLock sync.Mutex
	stopped  bool
}

func NewService(
	cfg AgentConfig,
	chains []ChainConfig,
	clients map[uint64]ports.ChainClient,
	solverKey *ecdsa.PrivateKey,
	repoManager ports.RepoManager,
	liveStore ports.LiveStore,
	scheduler ports.SchedulerService,
	alerts ports.Alerts,
	oracle ports.PriceOracle,
	reputation ports.ReputationLedger,
	metrics ports.Metrics,
) (Service, error) {
	if solverKey == nil {
		return nil, fmt.Errorf("missing solver private key")
	}
	if len(chains) < 2 {
		return nil, fmt.Errorf("at least 2 chains are required, got %d", len(chains))
	}
	for _, chain := range chains {
		if _, ok := clients[chain.ChainId]; !ok {
			return nil, fmt.Errorf("missing client for chain %d", chain.ChainId)
		}
	}
	if cfg.RevealWindow <= cfg.RevealDelay {
		return nil, fmt.Errorf(
			"reveal window (%s) must be longer than the reveal delay (%s)",
			cfg.RevealWindow, cfg.RevealDelay,
		)
	}

	metrics = metricsOrNoop(metrics)
	book := NewChains(chains)
	ctx, cancel := context.WithCancel(context.Background())

	svc := &service{
		cfg:          cfg,
		chains:       book,
		clients:      clients,
		solverKey:    solverKey,
		solver:       strings.ToLower(crypto.PubkeyToAddress(solverKey.PublicKey).Hex()),
		repoManager:  repoManager,
		liveStore:    liveStore,
		scheduler:    scheduler,
		alerts:       alerts,
		oracle:       oracle,
		reputation:   reputation,
		metrics:      metrics,
		registry:     NewIntentRegistry(liveStore.Intents(), repoManager.Events(), metrics),
		strategy:     NewStrategyEngine(cfg.Strategy, book),
		liquidity:    NewLiquidityManager(book, metrics),
		coordinator:  NewCommitRevealCoordinator(liveStore.Commitments(), cfg.RevealWindow),
		executor:     NewSettlementExecutor(cfg.Settlement, clients, repoManager.Settlements(), metrics),
		ledger:       NewAttestationLedger(cfg.Attestation, repoManager.Receipts()),
		reservations: make(map[string]domain.Reservation),
		stop:         cancel,
		ctx:          ctx,
		wg:           &sync.WaitGroup{},
	}

	for _, chain := range chains {
		svc.watchers = append(svc.watchers, NewChainEventWatcher(
			clients[chain.ChainId], chain, cfg.Watcher,
			repoManager.Checkpoints(), svc.register, metrics,
		))
	}

	repoManager.Events().RegisterEventsHandler(domain.IntentTopic, func(events []domain.IntentEvent) {
		for _, event := range events {
			log.WithFields(log.Fields{
				"order_id": event.OrderId,
				"type":     event.Type,
				"from":     event.From,
				"to":       event.To,
				"reason":   event.Reason,
			}).Debug("intent event")
		}
	})

	return svc, nil
}

func (s *service) Start() error {
	log.Debug("restoring liquidity positions...")
	if err := s.restore(s.ctx); err != nil {
		return err
	}
	s.refreshBalances(s.ctx)

	s.scheduler.Start()
	tasks := []struct {
		interval time.Duration
		task     func()
	}{
		{s.cfg.EvaluationInterval, s.evaluate},
		{s.cfg.SweepInterval, s.sweep},
		{s.cfg.RebalanceInterval, s.rebalance},
		{s.cfg.AggregationInterval, s.aggregate},
	}
	for _, t := range tasks {
		if t.interval <= 0 {
			continue
		}
		if err := s.scheduler.ScheduleRecurring(t.interval, t.task); err != nil {
			return fmt.Errorf("failed to schedule recurring task: %w", err)
		}
	}

	for _, w := range s.watchers {
		s.wg.Add(1)
		go func(w *ChainEventWatcher) {
			defer s.wg.Done()
			w.Run(s.ctx)
		}(w)
	}

	// resume the executions interrupted by the last shutdown
	inFlight, err := s.registry.List(s.ctx, domain.IntentRevealed, domain.IntentFilled)
	if err != nil {
		return fmt.Errorf("failed to list in-flight intents: %w", err)
	}
	for _, intent := range inFlight {
		log.WithField("order_id", intent.OrderId).Info("resuming execution")
		s.goExecute(intent)
	}

	log.WithField("solver", s.solver).Info("solver agent started")
	return nil
}

func (s *service) Stop() {
	s.stopLock.Lock()
	if s.stopped {
		s.stopLock.Unlock()
		return
	}
	s.stopped = true
	s.stopLock.Unlock()

	s.stop()
	s.scheduler.Stop()
	log.Debug("stopped scheduler")

	s.wg.Wait()

	snapshotCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.snapshotLiquidity(snapshotCtx)

	s.repoManager.Events().ClearRegisteredHandlers()
	s.repoManager.Close()
	log.Debug("closed connection to db")
	s.liveStore.Close()
	log.Debug("closed live store")
	for _, client := range s.clients {
		client.Close()
	}
	log.Debug("closed chain clients")
}

func (s *service) GetInfo(ctx context.Context) (*ServiceInfo, error) {
	pending, err := s.liveStore.Intents().Len(ctx)
	if err != nil {
		return nil, err
	}
	chains := make([]uint64, 0, len(s.chains))
	for id := range s.chains {
		chains = append(chains, id)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })

	return &ServiceInfo{
		SolverAddress:  s.solver,
		Chains:         chains,
		CurrentEpoch:   s.ledger.CurrentEpoch(),
		MinProfitBps:   s.cfg.Strategy.MinProfitBps,
		PendingIntents: pending,
	}, nil
}

func (s *service) ListIntents(
	ctx context.Context, statuses ...domain.IntentStatus,
) ([]domain.Intent, error) {
	return s.registry.List(ctx, statuses...)
}

func (s *service) GetIntent(ctx context.Context, orderId string) (*domain.Intent, error) {
	return s.registry.Get(ctx, orderId)
}

func (s *service) LiquidityPositions(_ context.Context) []domain.LiquidityPosition {
	return s.liquidity.Positions()
}

func (s *service) PendingReconciliations(ctx context.Context) ([]domain.SettlementRecord, error) {
	return s.executor.PendingReconciliations(ctx)
}

func (s *service) Reconcile(ctx context.Context, orderId string) (*domain.SettlementRecord, error) {
	intent, err := s.registry.Get(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.IntentSettlementPending {
		return nil, solvererrors.INVALID_TRANSITION.New(
			"intent %s is %s, not pending settlement", intent.OrderId, intent.Status,
		).WithMetadata(solvererrors.TransitionMetadata{
			OrderId:  intent.OrderId,
			Current:  string(intent.Status),
			Expected: string(domain.IntentSettlementPending),
			Target:   string(domain.IntentSettled),
		})
	}

	record, err := s.executor.Reconcile(ctx, *intent)
	if err != nil {
		return record, err
	}
	s.onSettled(ctx, *intent, *record)
	return record, nil
}

func (s *service) UpdatePrices(ctx context.Context, prices ports.Prices) error {
	if err := s.oracle.Update(ctx, prices); err != nil {
		return err
	}
	s.pricesUpdated.Store(true)
	return nil
}

func (s *service) AddReceipt(ctx context.Context, receipt domain.TransferReceipt) error {
	if err := s.ledger.AddReceipt(ctx, receipt); err != nil {
		if solvererrors.DOUBLE_SPEND_RECEIPT.Is(err) {
			s.metrics.ReceiptProcessed("double_spend")
			s.publishAlert(ports.DoubleSpendReceipt, ports.DoubleSpendAlert{
				ReceiptId: receipt.Id,
				Sender:    receipt.Sender,
				Receiver:  receipt.Receiver,
			})
			return err
		}
		s.metrics.ReceiptProcessed("invalid")
		return err
	}
	s.metrics.ReceiptProcessed("accepted")
	return nil
}

func (s *service) VerifyReceipt(
	_ context.Context, receipt domain.TransferReceipt, expectedSender, expectedReceiver string,
) Verification {
	return s.ledger.VerifyReceipt(receipt, expectedSender, expectedReceiver)
}

func (s *service) AggregateReceipts(
	_ context.Context, sender string,
) (*domain.AggregatedReceipt, error) {
	return s.ledger.Aggregate(s.ledger.Pending(sender), sender)
}

// register is the sink of the chain watchers.
func (s *service) register(ctx context.Context, intent domain.Intent) error {
	created, err := s.registry.Upsert(ctx, intent)
	if err != nil {
		return fmt.Errorf("failed to register intent %s: %w", intent.OrderId, err)
	}
	if created {
		log.WithFields(log.Fields{
			"order_id":    intent.OrderId,
			"source":      intent.SourceChain,
			"destination": intent.DestinationChain,
		}).Info("discovered intent")
	}
	return nil
}

// evaluate scores the new intents (and the rejected ones worth a second look),
// then reserves liquidity and commits to the accepted ones in rank order.
func (s *service) evaluate() {
	if !s.evaluating.TryLock() {
		return
	}
	defer s.evaluating.Unlock()

	ctx := s.ctx
	prices, err := s.oracle.Prices(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get prices, skipping evaluation")
		return
	}
	revisit := s.pricesUpdated.Swap(false)

	toScore, err := s.registry.List(ctx, domain.IntentDiscovered)
	if err != nil {
		log.WithError(err).Warn("failed to list discovered intents")
		return
	}

	accepted, err := s.registry.List(ctx, domain.IntentAccepted)
	if err != nil {
		log.WithError(err).Warn("failed to list accepted intents")
		return
	}
	for _, intent := range accepted {
		if !s.hasReservation(intent.OrderId) {
			toScore = append(toScore, intent)
		}
	}

	if revisit {
		rejected, err := s.registry.List(ctx, domain.IntentRejected)
		if err != nil {
			log.WithError(err).Warn("failed to list rejected intents")
			return
		}
		now := time.Now()
		for _, intent := range rejected {
			if intent.RejectReason.Revisitable() && !intent.IsOverdue(now) {
				toScore = append(toScore, intent)
			}
		}
	}
	if len(toScore) == 0 {
		return
	}

	gasPrices := s.gasPrices(ctx, toScore)
	decisions := make([]Decision, len(toScore))
	wg := sync.WaitGroup{}
	for i, intent := range toScore {
		wg.Add(1)
		go func(i int, intent domain.Intent) {
			defer wg.Done()
			decisions[i] = s.strategy.Score(intent, gasPrices[intent.DestinationChain], prices)
		}(i, intent)
	}
	wg.Wait()

	candidates := make([]Candidate, 0)
	for i, intent := range toScore {
		decision := decisions[i]
		s.metrics.DecisionMade(decision.Accept, decision.Reason)
		log.WithFields(log.Fields{
			"order_id":   intent.OrderId,
			"accept":     decision.Accept,
			"profit_bps": decision.ExpectedProfitBps,
			"reason":     decision.Reason,
		}).Info("intent scored")

		if decision.Accept {
			candidates = append(candidates, Candidate{intent, decision})
			continue
		}
		if intent.Status == domain.IntentDiscovered {
			if _, err := s.registry.Reject(
				ctx, intent.OrderId, intent.Status, decision.Reason,
			); err != nil {
				log.WithError(err).WithField("order_id", intent.OrderId).
					Warn("failed to reject intent")
			}
		}
	}

	for _, candidate := range s.strategy.Rank(candidates) {
		if ctx.Err() != nil {
			return
		}
		s.acquire(ctx, candidate.Intent)
	}
}

func (s *service) acquire(ctx context.Context, intent domain.Intent) {
	logger := log.WithField("order_id", intent.OrderId)

	if !s.reserve(intent) {
		logger.Info("not enough liquidity to fill intent")
		if intent.Status == domain.IntentDiscovered {
			if _, err := s.registry.Reject(
				ctx, intent.OrderId, intent.Status, domain.ReasonInsufficientLiquidity,
			); err != nil {
				logger.WithError(err).Warn("failed to reject intent")
			}
		}
		return
	}

	if intent.Status != domain.IntentAccepted {
		updated, err := s.registry.Transition(
			ctx, intent.OrderId, intent.Status, domain.IntentAccepted,
		)
		if err != nil {
			logger.WithError(err).Warn("failed to accept intent")
			s.release(intent.OrderId)
			return
		}
		intent = *updated
	}

	s.commit(ctx, intent)
}

func (s *service) commit(ctx context.Context, intent domain.Intent) {
	logger := log.WithField("order_id", intent.OrderId)
	params := domain.FillParams{
		DestinationChain: intent.DestinationChain,
		Token:            intent.OutputToken,
		Amount:           intent.OutputAmount,
		Recipient:        intent.Recipient,
	}

	commitment, reveal, err := s.coordinator.Commit(ctx, intent, s.solver, params)
	if err != nil {
		s.release(intent.OrderId)
		if solvererrors.COMMITMENT_PENDING.Is(err) {
			logger.Debug("commitment already pending")
			return
		}
		logger.WithError(err).Warn("failed to commit to intent")
		return
	}

	if _, err := s.registry.Transition(
		ctx, intent.OrderId, domain.IntentAccepted, domain.IntentCommitted,
	); err != nil {
		logger.WithError(err).Warn("failed to mark intent as committed")
		if _, err := s.coordinator.Discard(ctx, intent.OrderId); err != nil {
			logger.WithError(err).Warn("failed to discard commitment")
		}
		s.release(intent.OrderId)
		return
	}

	revealAt := time.Now().Add(s.cfg.RevealDelay)
	if err := s.scheduler.ScheduleTaskOnce(revealAt, func() {
		s.reveal(*reveal)
	}); err != nil {
		// the commitment sweep returns the intent to Accepted
		logger.WithError(err).Warn("failed to schedule reveal")
		return
	}

	logger.WithFields(log.Fields{
		"commit_hash":     commitment.CommitHash,
		"reveal_at":       revealAt.Format(time.RFC3339),
		"reveal_deadline": commitment.RevealDeadline.Format(time.RFC3339),
	}).Info("committed to intent")
}

func (s *service) reveal(reveal domain.Reveal) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	logger := log.WithField("order_id", reveal.OrderId)

	reveal.RevealedAt = time.Now()
	consumed, err := s.coordinator.Reveal(ctx, reveal, reveal.RevealedAt)
	if err != nil {
		logger.WithError(err).Warn("reveal failed")
		if consumed {
			s.release(reveal.OrderId)
			if _, err := s.registry.Transition(
				ctx, reveal.OrderId, domain.IntentCommitted, domain.IntentAccepted,
			); err != nil && !solvererrors.INVALID_TRANSITION.Is(err) {
				logger.WithError(err).Warn("failed to return intent to accepted")
			}
		}
		return
	}

	intent, err := s.registry.Transition(
		ctx, reveal.OrderId, domain.IntentCommitted, domain.IntentRevealed,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to mark intent as revealed")
		s.release(reveal.OrderId)
		return
	}
	logger.Info("revealed fill parameters")

	s.goExecute(*intent)
}

func (s *service) goExecute(intent domain.Intent) {
	s.stopLock.Lock()
	defer s.stopLock.Unlock()
	if s.stopped {
		log.WithField("order_id", intent.OrderId).Info("agent stopping, execution resumes on next start")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, intent)
	}()
}

func (s *service) execute(ctx context.Context, intent domain.Intent) {
	logger := log.WithField("order_id", intent.OrderId)

	record, err := s.executor.Execute(ctx, intent, func(domain.SettlementRecord) {
		s.onFillConfirmed(ctx, intent.OrderId)
	})
	if err == nil {
		s.onSettled(ctx, intent, *record)
		return
	}
	if ctx.Err() != nil {
		logger.Info("execution interrupted, resuming on next start")
		return
	}

	if solvererrors.SETTLEMENT_PARTIAL_FAILURE.Is(err) {
		logger.WithError(err).Error("fill confirmed but settlement failed")
		if _, err := s.registry.Transition(
			ctx, intent.OrderId, domain.IntentFilled, domain.IntentSettlementPending,
		); err != nil && !solvererrors.INVALID_TRANSITION.Is(err) {
			logger.WithError(err).Warn("failed to mark intent as pending settlement")
		}
		alert := ports.SettlementPendingAlert{
			OrderId:          intent.OrderId,
			SourceChain:      intent.SourceChain,
			DestinationChain: intent.DestinationChain,
		}
		if record != nil {
			alert.FillTxHash = record.FillTxHash
			alert.Attempts = record.SettleAttempts
			alert.LastError = record.LastError
		}
		s.publishAlert(ports.SettlementPending, alert)
		return
	}

	logger.WithError(err).Warn("execution failed")
	s.release(intent.OrderId)
	current, getErr := s.registry.Get(ctx, intent.OrderId)
	if getErr != nil {
		logger.WithError(getErr).Warn("failed to get intent")
		return
	}
	if current.Status.IsTerminal() || current.Status.IsFilled() {
		return
	}
	target := domain.IntentFailed
	if current.IsOverdue(time.Now()) {
		target = domain.IntentExpired
	}
	if _, err := s.registry.Transition(
		ctx, intent.OrderId, current.Status, target,
	); err != nil {
		logger.WithError(err).Warnf("failed to mark intent as %s", strings.ToLower(string(target)))
	}
}

func (s *service) onFillConfirmed(ctx context.Context, orderId string) {
	intent, err := s.registry.Get(ctx, orderId)
	if err != nil {
		log.WithError(err).WithField("order_id", orderId).Warn("failed to get intent")
		return
	}
	if intent.Status != domain.IntentRevealed {
		return
	}
	if _, err := s.registry.Transition(
		ctx, orderId, domain.IntentRevealed, domain.IntentFilled,
	); err != nil {
		log.WithError(err).WithField("order_id", orderId).Warn("failed to mark intent as filled")
		return
	}
	s.settleReservation(orderId)
}

// onSettled closes the intent and issues a receipt to the depositor for the
// settlement record.
func (s *service) onSettled(
	ctx context.Context, intent domain.Intent, record domain.SettlementRecord,
) {
	logger := log.WithField("order_id", intent.OrderId)

	current, err := s.registry.Get(ctx, intent.OrderId)
	if err != nil {
		logger.WithError(err).Warn("failed to get intent")
		return
	}
	if current.Status == domain.IntentRevealed {
		// resumed from a journal that was already settled
		if current, err = s.registry.Transition(
			ctx, intent.OrderId, domain.IntentRevealed, domain.IntentFilled,
		); err != nil {
			logger.WithError(err).Warn("failed to mark intent as filled")
			return
		}
		s.settleReservation(intent.OrderId)
	}
	if current.Status == domain.IntentSettled {
		return
	}
	if _, err := s.registry.Transition(
		ctx, intent.OrderId, current.Status, domain.IntentSettled,
	); err != nil {
		logger.WithError(err).Warn("failed to mark intent as settled")
		return
	}

	if !common.IsHexAddress(intent.User) {
		return
	}
	buf, err := json.Marshal(record)
	if err != nil {
		logger.WithError(err).Warn("failed to encode settlement record")
		return
	}
	receipt, err := s.ledger.CreateReceipt(
		s.solverKey, intent.User, crypto.Keccak256Hash(buf).Hex(), uint64(len(buf)),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create receipt")
		return
	}
	if err := s.ledger.AddReceipt(ctx, *receipt); err != nil {
		logger.WithError(err).Warn("failed to add receipt")
		return
	}
	logger.WithField("receipt_id", receipt.Id).Info("issued transfer receipt")
}

// sweep expires overdue commitments, intents and receipts.
func (s *service) sweep() {
	ctx := s.ctx
	now := time.Now()

	commitments, err := s.coordinator.ExpireOverdue(ctx, now)
	if err != nil {
		log.WithError(err).Warn("failed to expire commitments")
	}
	for _, commitment := range commitments {
		s.release(commitment.OrderId)
		if _, err := s.registry.Transition(
			ctx, commitment.OrderId, domain.IntentCommitted, domain.IntentAccepted,
		); err != nil && !solvererrors.INVALID_TRANSITION.Is(err) {
			log.WithError(err).WithField("order_id", commitment.OrderId).
				Warn("failed to return intent to accepted")
		}
	}
	if len(commitments) > 0 {
		log.Infof("expired %d commitments", len(commitments))
	}

	intents, err := s.registry.ExpireOverdue(ctx, now)
	if err != nil {
		log.WithError(err).Warn("failed to expire intents")
	}
	for _, intent := range intents {
		s.release(intent.OrderId)
		if _, err := s.coordinator.Discard(ctx, intent.OrderId); err != nil {
			log.WithError(err).WithField("order_id", intent.OrderId).
				Warn("failed to discard commitment")
		}
	}
	if len(intents) > 0 {
		log.Infof("expired %d intents", len(intents))
	}

	current := s.ledger.CurrentEpoch()
	if maxAge := s.cfg.Attestation.MaxReceiptAge; current > maxAge {
		if count := s.ledger.Cleanup(current - maxAge - 1); count > 0 {
			log.Infof("evicted %d stale receipts", count)
		}
	}
}

func (s *service) rebalance() {
	ctx := s.ctx
	s.refreshBalances(ctx)

	advices := s.liquidity.Rebalance()
	events := make([]domain.IntentEvent, 0, len(advices))
	for _, advice := range advices {
		log.WithFields(log.Fields{
			"chain":   advice.Chain,
			"token":   advice.Token,
			"deficit": advice.Deficit.String(),
		}).Warn("liquidity below floor ratio")

		s.publishAlert(ports.RebalanceRequired, ports.RebalanceAlert{
			Chain:     advice.Chain,
			Token:     advice.Token,
			Symbol:    advice.Symbol,
			Available: advice.Available.String(),
			Target:    advice.Target.String(),
			Deficit:   advice.Deficit.String(),
			Share:     advice.Share.StringFixed(4),
		})
		events = append(events, domain.IntentEvent{
			Id:   uuid.New().String(),
			Type: domain.EventRebalanceRequired,
			Reason: fmt.Sprintf(
				"chain %d token %s deficit %s", advice.Chain, advice.Token, advice.Deficit,
			),
			Timestamp: time.Now(),
		})
	}
	if len(events) > 0 {
		if err := s.repoManager.Events().Save(ctx, domain.IntentTopic, events...); err != nil {
			log.WithError(err).Warn("failed to publish rebalance events")
		}
	}

	s.snapshotLiquidity(ctx)
}

// aggregate submits the pending receipts of every sender to the reputation
// ledger and marks them as used.
func (s *service) aggregate() {
	if s.reputation == nil {
		return
	}
	ctx := s.ctx

	for _, sender := range s.ledger.Senders() {
		aggregated, err := s.ledger.Aggregate(s.ledger.Pending(sender), sender)
		if err != nil {
			if !solvererrors.EMPTY_AGGREGATION.Is(err) {
				log.WithError(err).WithField("sender", sender).Warn("failed to aggregate receipts")
			}
			continue
		}
		if err := s.reputation.Submit(ctx, *aggregated); err != nil {
			log.WithError(err).WithField("sender", sender).Warn("failed to submit receipts")
			continue
		}
		if err := s.ledger.MarkUsed(ctx, aggregated.ReceiptIds); err != nil {
			log.WithError(err).WithField("sender", sender).Warn("failed to mark receipts as used")
			continue
		}
		log.WithFields(log.Fields{
			"sender":   sender,
			"receipts": len(aggregated.ReceiptIds),
			"hash":     aggregated.AggregateHash,
		}).Info("submitted aggregated receipts")
	}
}

func (s *service) restore(ctx context.Context) error {
	positions, err := s.repoManager.Liquidity().GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get liquidity positions: %w", err)
	}
	s.liquidity.Restore(positions)

	held, err := s.registry.List(ctx, domain.IntentCommitted, domain.IntentRevealed)
	if err != nil {
		return fmt.Errorf("failed to list committed intents: %w", err)
	}
	for _, intent := range held {
		if !s.reserve(intent) {
			log.WithField("order_id", intent.OrderId).
				Warn("failed to restore reservation of committed intent")
		}
	}
	return nil
}

func (s *service) refreshBalances(ctx context.Context) {
	for id, chain := range s.chains {
		client := s.clients[id]
		for _, token := range chain.Tokens {
			balance, err := client.TokenBalance(ctx, token.Address)
			if err != nil {
				log.WithError(err).WithFields(log.Fields{
					"chain": id,
					"token": token.Address,
				}).Warn("failed to refresh balance")
				continue
			}
			s.liquidity.SetAvailable(id, token.Address, balance)
		}
	}
}

func (s *service) snapshotLiquidity(ctx context.Context) {
	if err := s.repoManager.Liquidity().UpsertPositions(ctx, s.liquidity.Positions()); err != nil {
		log.WithError(err).Warn("failed to snapshot liquidity positions")
	}
}

func (s *service) gasPrices(ctx context.Context, intents []domain.Intent) map[uint64]*big.Int {
	prices := make(map[uint64]*big.Int)
	for _, intent := range intents {
		chainId := intent.DestinationChain
		if _, ok := prices[chainId]; ok {
			continue
		}
		client, ok := s.clients[chainId]
		if !ok {
			continue
		}
		price, err := client.SuggestGasPrice(ctx)
		if err != nil {
			log.WithError(err).WithField("chain", chainId).Warn("failed to get gas price")
			s.metrics.RpcError(chainId)
			continue
		}
		prices[chainId] = price
	}
	return prices
}

func (s *service) reserve(intent domain.Intent) bool {
	if s.hasReservation(intent.OrderId) {
		return true
	}
	if !s.liquidity.Reserve(intent.DestinationChain, intent.OutputToken, intent.OutputAmount) {
		return false
	}

	s.reservationsLock.Lock()
	defer s.reservationsLock.Unlock()
	if _, ok := s.reservations[intent.OrderId]; ok {
		s.liquidity.Release(intent.DestinationChain, intent.OutputToken, intent.OutputAmount)
		return true
	}
	s.reservations[intent.OrderId] = domain.Reservation{
		OrderId: intent.OrderId,
		Chain:   intent.DestinationChain,
		Token:   intent.OutputToken,
		Amount:  intent.OutputAmount,
	}
	return true
}

func (s *service) hasReservation(orderId string) bool {
	s.reservationsLock.Lock()
	defer s.reservationsLock.Unlock()
	_, ok := s.reservations[orderId]
	return ok
}

// release frees the reservation of the order, if it still holds one.
func (s *service) release(orderId string) {
	if r, ok := s.popReservation(orderId); ok {
		s.liquidity.Release(r.Chain, r.Token, r.Amount)
	}
}

func (s *service) settleReservation(orderId string) {
	if r, ok := s.popReservation(orderId); ok {
		s.liquidity.Settle(r.Chain, r.Token, r.Amount)
	}
}

func (s *service) popReservation(orderId string) (domain.Reservation, bool) {
	s.reservationsLock.Lock()
	defer s.reservationsLock.Unlock()
	r, ok := s.reservations[orderId]
	if ok {
		delete(s.reservations, orderId)
	}
	return r, ok
}
