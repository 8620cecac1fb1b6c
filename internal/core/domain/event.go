package domain

import (
	"context"
	"time"
)

const IntentTopic = "intents"

type EventType string

const (
	EventIntentDiscovered   EventType = "IntentDiscovered"
	EventIntentTransitioned EventType = "IntentTransitioned"
	EventRebalanceRequired  EventType = "RebalanceRequired"
)

type IntentEvent struct {
	Id        string
	Type      EventType
	OrderId   string
	From      IntentStatus
	To        IntentStatus
	Reason    string
	Timestamp time.Time
}

type EventRepository interface {
	Save(ctx context.Context, topic string, events ...IntentEvent) error
	RegisterEventsHandler(topic string, handler func(events []IntentEvent))
	ClearRegisteredHandlers(topics ...string)
	Close()
}
