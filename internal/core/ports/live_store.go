package ports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
)

var (
	ErrIntentNotFound   = errors.New("intent not found")
	ErrCommitmentExists = errors.New("commitment already pending")
)

// StatusMismatchError is returned by a compare-and-swap whose expected status
// doesn't match the stored one.
type StatusMismatchError struct {
	Current domain.IntentStatus
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("status mismatch, current status is %s", e.Current)
}

type LiveStore interface {
	Intents() IntentStore
	Commitments() CommitmentStore
	Close()
}

// IntentStore keeps the intents indexed by status. Terminal intents are
// evicted once they stayed terminal for the store retention.
type IntentStore interface {
	// Add stores the intent unless its order id is already known, in which case
	// it returns false.
	Add(ctx context.Context, intent domain.Intent) (bool, error)
	Get(ctx context.Context, orderId string) (*domain.Intent, error)
	// CompareAndSwap moves the intent from one status to another atomically.
	CompareAndSwap(
		ctx context.Context, orderId string, from, to domain.IntentStatus,
		reason domain.RejectReason,
	) (*domain.Intent, error)
	List(ctx context.Context, statuses ...domain.IntentStatus) ([]domain.Intent, error)
	Len(ctx context.Context) (int64, error)
}

type CommitmentStore interface {
	// Add fails with ErrCommitmentExists while another commitment for the same
	// order is pending.
	Add(ctx context.Context, commitment domain.Commitment) error
	Get(ctx context.Context, orderId string) (*domain.Commitment, error)
	// Delete removes the commitment and reports whether it was there, so that
	// only one of the concurrent consumers wins it.
	Delete(ctx context.Context, orderId string) (bool, error)
	ListExpired(ctx context.Context, now time.Time) ([]domain.Commitment, error)
}
