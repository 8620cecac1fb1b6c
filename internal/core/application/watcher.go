package application

import (
	"context"
	"sort"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval  = 5 * time.Second
	defaultMaxBackoff    = time.Minute
	defaultMaxBlockRange = 2000
)

// IntentSink takes over the intents found by a watcher.
type IntentSink func(ctx context.Context, intent domain.Intent) error

// ChainEventWatcher turns the Open logs of one chain into intents. Logs are
// considered only once they are buried under the configured confirmations,
// and the checkpoint moves forward only after the sink accepted every intent
// of a range.
type ChainEventWatcher struct {
	chain       ports.ChainClient
	checkpoints domain.CheckpointRepository
	sink        IntentSink
	cfg         WatcherConfig

	confirmations uint64
	startBlock    uint64
	metrics       ports.Metrics
}

func NewChainEventWatcher(
	chain ports.ChainClient, chainCfg ChainConfig, cfg WatcherConfig,
	checkpoints domain.CheckpointRepository, sink IntentSink, metrics ports.Metrics,
) *ChainEventWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = defaultMaxBlockRange
	}
	return &ChainEventWatcher{
		chain:         chain,
		checkpoints:   checkpoints,
		sink:          sink,
		cfg:           cfg,
		confirmations: chainCfg.Confirmations,
		startBlock:    chainCfg.StartBlock,
		metrics:       metricsOrNoop(metrics),
	}
}

// Run polls the chain until the context is canceled. RPC failures never stop
// it: it backs off and tries again.
func (w *ChainEventWatcher) Run(ctx context.Context) {
	chainId := w.chain.ChainId()
	logger := log.WithField("chain_id", chainId)
	logger.Info("chain watcher started")

	failures := 0
	for {
		delay := w.cfg.PollInterval
		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			delay = w.backoff(failures)
			w.metrics.RpcError(chainId)
			solvererrors.RPC_UNAVAILABLE.Wrap(err).
				WithMetadata(solvererrors.ChainMetadata{ChainId: chainId}).
				Log().WithError(err).Warnf("chain poll failed, retrying in %s", delay)
		} else {
			failures = 0
		}

		if err := sleep(ctx, delay); err != nil {
			break
		}
	}
	logger.Info("chain watcher stopped")
}

// Poll scans the confirmed blocks since the last checkpoint.
func (w *ChainEventWatcher) Poll(ctx context.Context) error {
	chainId := w.chain.ChainId()

	head, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	w.metrics.WatcherHeight(chainId, head)
	if head < w.confirmations {
		return nil
	}
	safe := head - w.confirmations

	checkpoint, found, err := w.checkpoints.Get(ctx, chainId)
	if err != nil {
		return err
	}
	var from uint64
	switch {
	case found:
		from = checkpoint + 1
	case w.startBlock > 0:
		from = w.startBlock
	default:
		// nothing persisted and no start block: only watch from now on
		from = safe
	}

	for from <= safe {
		to := min(from+w.cfg.MaxBlockRange-1, safe)

		logs, err := w.chain.FilterOpenLogs(ctx, from, to)
		if err != nil {
			return err
		}
		sort.SliceStable(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].LogIndex < logs[j].LogIndex
		})

		for _, l := range logs {
			if l.Removed {
				continue
			}
			intent, err := w.chain.DecodeOpenLog(l)
			if err != nil {
				solvererrors.DECODE_ERROR.Wrap(err).WithMetadata(solvererrors.LogMetadata{
					ChainId:     chainId,
					BlockNumber: l.BlockNumber,
					TxHash:      l.TxHash,
					LogIndex:    l.LogIndex,
				}).Log().WithError(err).Warn("skipping undecodable open log")
				continue
			}
			// the range is replayed from the checkpoint if the sink fails
			if err := w.sink(ctx, *intent); err != nil {
				return err
			}
		}

		if err := w.checkpoints.Upsert(ctx, chainId, to); err != nil {
			return err
		}
		from = to + 1
	}
	return nil
}

func (w *ChainEventWatcher) backoff(failures int) time.Duration {
	delay := w.cfg.PollInterval * time.Duration(1<<min(failures, 10))
	return min(delay, w.cfg.MaxBackoff)
}
