package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/arkade-os/solverd/internal/core/ports"
	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// IntentRegistry is the single source of truth for intent lifecycles. Writers
// are serialized per order id by the live store's compare-and-swap.
type IntentRegistry struct {
	store   ports.IntentStore
	events  domain.EventRepository
	metrics ports.Metrics
}

func NewIntentRegistry(
	store ports.IntentStore, events domain.EventRepository, metrics ports.Metrics,
) *IntentRegistry {
	return &IntentRegistry{store, events, metricsOrNoop(metrics)}
}

// Upsert stores a newly discovered intent. It's a no-op for known order ids.
func (r *IntentRegistry) Upsert(ctx context.Context, intent domain.Intent) (bool, error) {
	intent.OrderId = domain.NormalizeOrderId(intent.OrderId)
	if err := intent.Validate(); err != nil {
		return false, err
	}

	now := time.Now()
	intent.Status = domain.IntentDiscovered
	intent.RejectReason = domain.ReasonNone
	intent.CreatedAt = now
	intent.UpdatedAt = now

	created, err := r.store.Add(ctx, intent)
	if err != nil {
		return false, fmt.Errorf("failed to add intent %s: %w", intent.OrderId, err)
	}
	if !created {
		return false, nil
	}

	r.metrics.IntentDiscovered(intent.SourceChain)
	r.publish(ctx, domain.IntentEvent{
		Type:    domain.EventIntentDiscovered,
		OrderId: intent.OrderId,
		To:      domain.IntentDiscovered,
	})
	return true, nil
}

func (r *IntentRegistry) Transition(
	ctx context.Context, orderId string, from, to domain.IntentStatus,
) (*domain.Intent, error) {
	return r.transition(ctx, orderId, from, to, domain.ReasonNone)
}

func (r *IntentRegistry) Reject(
	ctx context.Context, orderId string, from domain.IntentStatus, reason domain.RejectReason,
) (*domain.Intent, error) {
	return r.transition(ctx, orderId, from, domain.IntentRejected, reason)
}

func (r *IntentRegistry) Get(ctx context.Context, orderId string) (*domain.Intent, error) {
	orderId = domain.NormalizeOrderId(orderId)
	intent, err := r.store.Get(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, solvererrors.INTENT_NOT_FOUND.New("intent %s not found", orderId).
			WithMetadata(solvererrors.OrderMetadata{OrderId: orderId})
	}
	return intent, nil
}

func (r *IntentRegistry) List(
	ctx context.Context, statuses ...domain.IntentStatus,
) ([]domain.Intent, error) {
	return r.store.List(ctx, statuses...)
}

// ExpireOverdue moves every intent not yet revealed whose fill deadline passed
// to Expired, and returns them. Revealed intents have an execution in flight
// that owns their outcome.
func (r *IntentRegistry) ExpireOverdue(ctx context.Context, now time.Time) ([]domain.Intent, error) {
	intents, err := r.store.List(
		ctx,
		domain.IntentDiscovered, domain.IntentAccepted, domain.IntentRejected,
		domain.IntentCommitted,
	)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.Intent, 0)
	for _, intent := range intents {
		if !intent.IsOverdue(now) {
			continue
		}
		updated, err := r.Transition(ctx, intent.OrderId, intent.Status, domain.IntentExpired)
		if err != nil {
			if solvererrors.INVALID_TRANSITION.Is(err) {
				// moved concurrently, the next sweep gets it if still due
				continue
			}
			return expired, err
		}
		expired = append(expired, *updated)
	}
	return expired, nil
}

func (r *IntentRegistry) transition(
	ctx context.Context, orderId string, from, to domain.IntentStatus,
	reason domain.RejectReason,
) (*domain.Intent, error) {
	orderId = domain.NormalizeOrderId(orderId)
	metadata := solvererrors.TransitionMetadata{
		OrderId:  orderId,
		Expected: string(from),
		Target:   string(to),
	}

	if !from.CanTransitionTo(to) {
		metadata.Current = string(from)
		return nil, solvererrors.INVALID_TRANSITION.New(
			"transition %s -> %s is not allowed", from, to,
		).WithMetadata(metadata)
	}

	intent, err := r.store.CompareAndSwap(ctx, orderId, from, to, reason)
	if err != nil {
		if errors.Is(err, ports.ErrIntentNotFound) {
			return nil, solvererrors.INTENT_NOT_FOUND.Wrap(err).
				WithMetadata(solvererrors.OrderMetadata{OrderId: orderId})
		}
		var mismatch *ports.StatusMismatchError
		if errors.As(err, &mismatch) {
			metadata.Current = string(mismatch.Current)
			return nil, solvererrors.INVALID_TRANSITION.Wrap(err).WithMetadata(metadata)
		}
		return nil, fmt.Errorf("failed to update intent %s: %w", orderId, err)
	}

	r.metrics.IntentTransitioned(from, to)
	log.WithFields(log.Fields{
		"order_id": orderId,
		"from":     from,
		"to":       to,
		"reason":   reason,
	}).Debug("intent transitioned")

	r.publish(ctx, domain.IntentEvent{
		Type:    domain.EventIntentTransitioned,
		OrderId: orderId,
		From:    from,
		To:      to,
		Reason:  string(reason),
	})
	return intent, nil
}

func (r *IntentRegistry) publish(ctx context.Context, event domain.IntentEvent) {
	if r.events == nil {
		return
	}
	event.Id = uuid.New().String()
	event.Timestamp = time.Now()
	if err := r.events.Save(ctx, domain.IntentTopic, event); err != nil {
		log.WithError(err).WithField("order_id", event.OrderId).Warn("failed to publish intent event")
	}
}
