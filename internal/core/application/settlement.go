package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const defaultConfirmTimeout = 5 * time.Minute

// SettlementExecutor runs the fill on the destination chain and the settlement
// on the origin chain of an order. Every step is journaled by order id, so
// executing the same order twice never fills twice.
type SettlementExecutor struct {
	cfg     SettlementConfig
	chains  map[uint64]ports.ChainClient
	repo    domain.SettlementRepository
	sems    map[uint64]*semaphore.Weighted
	metrics ports.Metrics
}

func NewSettlementExecutor(
	cfg SettlementConfig, chains map[uint64]ports.ChainClient,
	repo domain.SettlementRepository, metrics ports.Metrics,
) *SettlementExecutor {
	if cfg.FillMaxAttempts <= 0 {
		cfg.FillMaxAttempts = 1
	}
	if cfg.SettleMaxAttempts <= 0 {
		cfg.SettleMaxAttempts = 1
	}
	if cfg.MaxConcurrentFills <= 0 {
		cfg.MaxConcurrentFills = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}

	sems := make(map[uint64]*semaphore.Weighted, len(chains))
	for id := range chains {
		sems[id] = semaphore.NewWeighted(cfg.MaxConcurrentFills)
	}
	return &SettlementExecutor{cfg, chains, repo, sems, metricsOrNoop(metrics)}
}

// Execute fills and settles the order. onFillConfirmed is called once the fill
// reached the confirmation depth, before settling; it may be called again for
// the same order when resuming an interrupted execution.
func (e *SettlementExecutor) Execute(
	ctx context.Context, intent domain.Intent,
	onFillConfirmed func(record domain.SettlementRecord),
) (*domain.SettlementRecord, error) {
	origin, destination, err := e.clients(intent)
	if err != nil {
		return nil, err
	}

	sem := e.sems[intent.DestinationChain]
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	record, err := e.record(ctx, intent)
	if err != nil {
		return nil, err
	}

	switch record.Stage {
	case domain.StageSettled:
		return record, nil
	case domain.StageSettlementPending:
		return record, partialFailure(*record, "settlement pending reconciliation")
	}

	if !record.FillConfirmed() {
		if err := e.fill(ctx, origin, destination, intent, record); err != nil {
			e.metrics.SettlementFinished(record.Stage)
			return record, err
		}
	}
	if onFillConfirmed != nil {
		onFillConfirmed(*record)
	}

	if err := e.settle(ctx, origin, record, e.cfg.SettleMaxAttempts); err != nil {
		e.metrics.SettlementFinished(record.Stage)
		return record, err
	}
	e.metrics.SettlementFinished(record.Stage)
	return record, nil
}

// Reconcile makes one operator-triggered settle attempt for an order left in
// settlement-pending.
func (e *SettlementExecutor) Reconcile(
	ctx context.Context, intent domain.Intent,
) (*domain.SettlementRecord, error) {
	origin, _, err := e.clients(intent)
	if err != nil {
		return nil, err
	}

	record, err := e.repo.Get(ctx, domain.NormalizeOrderId(intent.OrderId))
	if err != nil {
		return nil, err
	}
	if record == nil || !record.FillConfirmed() {
		return nil, fmt.Errorf("order %s has no confirmed fill to settle", intent.OrderId)
	}
	if record.Stage == domain.StageSettled {
		return record, nil
	}

	if err := e.settle(ctx, origin, record, 1); err != nil {
		return record, err
	}
	e.metrics.SettlementFinished(record.Stage)
	return record, nil
}

func (e *SettlementExecutor) PendingReconciliations(
	ctx context.Context,
) ([]domain.SettlementRecord, error) {
	return e.repo.GetByStage(ctx, domain.StageSettlementPending)
}

func (e *SettlementExecutor) fill(
	ctx context.Context, origin, destination ports.ChainClient,
	intent domain.Intent, record *domain.SettlementRecord,
) error {
	orderId := record.OrderId
	logger := log.WithField("order_id", orderId)

	// a previous run may have submitted a fill that is still pending or mined
	if record.FillTxHash != "" {
		confirmed, err := e.waitFill(ctx, destination, record)
		if err != nil {
			logger.WithError(err).Warn("failed to confirm journaled fill, retrying")
		}
		if confirmed {
			return nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.FillMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.backoff(attempt)); err != nil {
				return err
			}
		}

		status, err := origin.GetOrder(ctx, orderId)
		if err != nil {
			lastErr = err
			continue
		}
		if status != ports.OrderOpen {
			record.Stage = domain.StageFillFailed
			record.LastError = fmt.Sprintf("origin order is %s", status)
			e.persist(ctx, record)
			return fmt.Errorf("order %s is %s on origin chain", orderId, status)
		}

		filled, err := destination.IsFilled(ctx, orderId)
		if err != nil {
			lastErr = err
			continue
		}
		if filled && record.FillTxHash != "" {
			// the journaled fill may have landed while we were retrying
			if confirmed, err := e.waitFill(ctx, destination, record); err == nil && confirmed {
				return nil
			}
		}
		if filled {
			record.Stage = domain.StageFillFailed
			record.LastError = "filled by another solver"
			e.persist(ctx, record)
			return solvererrors.FILLED_BY_OTHER.New("order %s already filled", orderId).
				WithMetadata(solvererrors.OrderMetadata{OrderId: orderId})
		}

		txHash, err := destination.Fill(
			ctx, orderId, intent.OutputToken, intent.OutputAmount, intent.Recipient,
		)
		if err != nil {
			logger.WithError(err).Warnf("fill attempt %d failed", attempt+1)
			lastErr = err
			continue
		}
		record.Stage = domain.StageFillSubmitted
		record.FillTxHash = txHash
		e.persist(ctx, record)

		confirmed, err := e.waitFill(ctx, destination, record)
		if err != nil {
			lastErr = err
			continue
		}
		if confirmed {
			return nil
		}
		lastErr = fmt.Errorf("fill tx %s reverted", txHash)
	}

	record.Stage = domain.StageFillFailed
	if lastErr != nil {
		record.LastError = lastErr.Error()
	}
	e.persist(ctx, record)
	return fmt.Errorf(
		"failed to fill order %s after %d attempts: %v", orderId, e.cfg.FillMaxAttempts, lastErr,
	)
}

// waitFill waits for the journaled fill tx to reach the confirmation depth.
// It returns false if the tx reverted.
func (e *SettlementExecutor) waitFill(
	ctx context.Context, destination ports.ChainClient, record *domain.SettlementRecord,
) (bool, error) {
	conf, err := e.waitConfirmation(ctx, destination, record.FillTxHash)
	if err != nil {
		return false, err
	}
	if !conf.Success {
		return false, nil
	}
	record.Stage = domain.StageFillConfirmed
	record.FillBlock = conf.BlockNumber
	record.LastError = ""
	e.persist(ctx, record)
	log.WithFields(log.Fields{
		"order_id": record.OrderId,
		"tx_hash":  record.FillTxHash,
		"block":    conf.BlockNumber,
	}).Info("fill confirmed")
	return true, nil
}

func (e *SettlementExecutor) settle(
	ctx context.Context, origin ports.ChainClient, record *domain.SettlementRecord, attempts int,
) error {
	orderId := record.OrderId
	logger := log.WithField("order_id", orderId)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.backoff(attempt)); err != nil {
				return err
			}
		}
		record.SettleAttempts++

		if err := e.waitCanSettle(ctx, origin, orderId); err != nil {
			lastErr = err
			continue
		}

		txHash, err := origin.Settle(ctx, orderId)
		if err != nil {
			logger.WithError(err).Warnf("settle attempt %d failed", attempt+1)
			lastErr = err
			continue
		}
		record.Stage = domain.StageSettleSubmitted
		record.SettleTxHash = txHash
		e.persist(ctx, record)

		conf, err := e.waitConfirmation(ctx, origin, txHash)
		if err != nil {
			logger.WithError(err).Warnf("settle attempt %d failed", attempt+1)
			lastErr = err
			continue
		}
		if !conf.Success {
			lastErr = fmt.Errorf("settle tx %s reverted", txHash)
			logger.Warn(lastErr.Error())
			continue
		}

		record.Stage = domain.StageSettled
		record.LastError = ""
		e.persist(ctx, record)
		logger.WithField("tx_hash", txHash).Info("order settled")
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	record.Stage = domain.StageSettlementPending
	if lastErr != nil {
		record.LastError = lastErr.Error()
	}
	e.persist(ctx, record)
	return partialFailure(*record, record.LastError)
}

// waitConfirmation waits for the tx to reach the confirmation depth. A tx still
// pending after the confirm timeout is abandoned, it may have been dropped.
func (e *SettlementExecutor) waitConfirmation(
	ctx context.Context, client ports.ChainClient, txHash string,
) (*ports.TxConfirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	conf, err := client.WaitForConfirmation(waitCtx, txHash, e.cfg.ConfirmationDepth)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("tx %s not confirmed after %s", txHash, e.cfg.ConfirmTimeout)
		}
		return nil, err
	}
	return conf, nil
}

// waitCanSettle polls the origin settler until the order can be settled or
// the settle timeout expires.
func (e *SettlementExecutor) waitCanSettle(
	ctx context.Context, origin ports.ChainClient, orderId string,
) error {
	if e.cfg.SettleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.SettleTimeout)
		defer cancel()
	}

	for {
		ok, err := origin.CanSettle(ctx, orderId)
		if err == nil && ok {
			return nil
		}
		if err := sleep(ctx, e.cfg.PollInterval); err != nil {
			return fmt.Errorf("order %s not settleable yet: %w", orderId, err)
		}
	}
}

func (e *SettlementExecutor) record(
	ctx context.Context, intent domain.Intent,
) (*domain.SettlementRecord, error) {
	orderId := domain.NormalizeOrderId(intent.OrderId)
	record, err := e.repo.Get(ctx, orderId)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement record of %s: %w", orderId, err)
	}
	if record != nil {
		return record, nil
	}
	return &domain.SettlementRecord{
		OrderId:          orderId,
		SourceChain:      intent.SourceChain,
		DestinationChain: intent.DestinationChain,
		CreatedAt:        time.Now(),
	}, nil
}

func (e *SettlementExecutor) persist(ctx context.Context, record *domain.SettlementRecord) {
	record.UpdatedAt = time.Now()
	if err := e.repo.Upsert(context.WithoutCancel(ctx), *record); err != nil {
		log.WithError(err).WithField("order_id", record.OrderId).
			Error("failed to persist settlement record")
	}
}

func (e *SettlementExecutor) clients(
	intent domain.Intent,
) (origin ports.ChainClient, destination ports.ChainClient, err error) {
	origin, ok := e.chains[intent.SourceChain]
	if !ok {
		return nil, nil, fmt.Errorf("origin chain %d not configured", intent.SourceChain)
	}
	destination, ok = e.chains[intent.DestinationChain]
	if !ok {
		return nil, nil, fmt.Errorf("destination chain %d not configured", intent.DestinationChain)
	}
	return origin, destination, nil
}

func (e *SettlementExecutor) backoff(attempt int) time.Duration {
	base := e.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}
	return base * time.Duration(1<<min(attempt-1, 6))
}

func partialFailure(record domain.SettlementRecord, reason string) error {
	return solvererrors.SETTLEMENT_PARTIAL_FAILURE.New(
		"order %s filled but not settled: %s", record.OrderId, reason,
	).WithMetadata(solvererrors.SettlementMetadata{
		OrderId:      record.OrderId,
		FillTxHash:   record.FillTxHash,
		SettleTxHash: record.SettleTxHash,
		Attempts:     record.SettleAttempts,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
