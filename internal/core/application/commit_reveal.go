package application

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	log "github.com/sirupsen/logrus"
)

// CommitRevealCoordinator binds the solver to its fill parameters before they
// become public. The commitment store is the shared coordination point with
// the other solvers, the reveal secret stays with the caller.
type CommitRevealCoordinator struct {
	store        ports.CommitmentStore
	revealWindow time.Duration
	now          func() time.Time
}

func NewCommitRevealCoordinator(
	store ports.CommitmentStore, revealWindow time.Duration,
) *CommitRevealCoordinator {
	return &CommitRevealCoordinator{store, revealWindow, time.Now}
}

func (c *CommitRevealCoordinator) Commit(
	ctx context.Context, intent domain.Intent, committer string, params domain.FillParams,
) (*domain.Commitment, *domain.Reveal, error) {
	orderId := domain.NormalizeOrderId(intent.OrderId)
	now := c.now()
	deadline := now.Add(c.revealWindow)
	if !deadline.Before(intent.FillDeadline) {
		return nil, nil, fmt.Errorf(
			"reveal deadline %s would not precede fill deadline %s",
			deadline.Format(time.RFC3339), intent.FillDeadline.Format(time.RFC3339),
		)
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, nil, err
	}
	hash, err := domain.ComputeCommitHash(orderId, nonce, params)
	if err != nil {
		return nil, nil, err
	}

	commitment := domain.Commitment{
		OrderId:        orderId,
		Committer:      strings.ToLower(committer),
		CommitHash:     hash,
		RevealDeadline: deadline,
		CreatedAt:      now,
	}
	if err := c.store.Add(ctx, commitment); err != nil {
		if errors.Is(err, ports.ErrCommitmentExists) {
			return nil, nil, solvererrors.COMMITMENT_PENDING.Wrap(err).
				WithMetadata(commitmentMetadata(commitment))
		}
		return nil, nil, fmt.Errorf("failed to store commitment for %s: %w", orderId, err)
	}

	reveal := domain.Reveal{OrderId: orderId, Nonce: nonce, FillParams: params}
	return &commitment, &reveal, nil
}

// Reveal consumes the pending commitment of the order and checks the reveal
// against it. The returned bool tells whether this call removed the
// commitment: when false, a concurrent sweep already took care of it.
func (c *CommitRevealCoordinator) Reveal(
	ctx context.Context, reveal domain.Reveal, now time.Time,
) (bool, error) {
	orderId := domain.NormalizeOrderId(reveal.OrderId)
	commitment, err := c.store.Get(ctx, orderId)
	if err != nil {
		return false, err
	}
	if commitment == nil {
		return false, solvererrors.REVEAL_EXPIRED.New("no pending commitment for %s", orderId).
			WithMetadata(solvererrors.CommitmentMetadata{OrderId: orderId})
	}

	verifyErr := c.verify(*commitment, reveal, now)

	consumed, err := c.store.Delete(ctx, orderId)
	if err != nil {
		return false, err
	}
	if verifyErr != nil {
		return consumed, verifyErr
	}
	if !consumed {
		return false, solvererrors.REVEAL_EXPIRED.New(
			"commitment for %s was consumed concurrently", orderId,
		).WithMetadata(commitmentMetadata(*commitment))
	}
	return true, nil
}

// Verify is the verifier side check of a reveal against its commitment.
func (c *CommitRevealCoordinator) Verify(commitment domain.Commitment, reveal domain.Reveal) error {
	return c.verify(commitment, reveal, reveal.RevealedAt)
}

// ExpireOverdue removes and returns the commitments whose reveal deadline
// passed. Commitments consumed concurrently are left out.
func (c *CommitRevealCoordinator) ExpireOverdue(
	ctx context.Context, now time.Time,
) ([]domain.Commitment, error) {
	commitments, err := c.store.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.Commitment, 0, len(commitments))
	for _, commitment := range commitments {
		consumed, err := c.store.Delete(ctx, commitment.OrderId)
		if err != nil {
			log.WithError(err).WithField("order_id", commitment.OrderId).
				Warn("failed to drop expired commitment")
			continue
		}
		if consumed {
			expired = append(expired, commitment)
		}
	}
	return expired, nil
}

// Discard drops the pending commitment of the order, if any.
func (c *CommitRevealCoordinator) Discard(ctx context.Context, orderId string) (bool, error) {
	return c.store.Delete(ctx, domain.NormalizeOrderId(orderId))
}

func (c *CommitRevealCoordinator) verify(
	commitment domain.Commitment, reveal domain.Reveal, now time.Time,
) error {
	metadata := commitmentMetadata(commitment)

	hash, err := reveal.CommitHash()
	if err != nil || !strings.EqualFold(hash, commitment.CommitHash) {
		if err == nil {
			err = fmt.Errorf("reveal of %s does not match its commitment", commitment.OrderId)
		}
		return solvererrors.COMMIT_MISMATCH.Wrap(err).WithMetadata(metadata)
	}
	if commitment.IsExpired(now) {
		return solvererrors.REVEAL_EXPIRED.New(
			"reveal of %s came after deadline %s",
			commitment.OrderId, commitment.RevealDeadline.Format(time.RFC3339),
		).WithMetadata(metadata)
	}
	return nil
}

func commitmentMetadata(c domain.Commitment) solvererrors.CommitmentMetadata {
	return solvererrors.CommitmentMetadata{
		OrderId:        c.OrderId,
		CommitHash:     c.CommitHash,
		RevealDeadline: c.RevealDeadline.Unix(),
	}
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(buf), nil
}
