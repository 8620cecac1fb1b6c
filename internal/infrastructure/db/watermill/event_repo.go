package watermilldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/arkade-os/solverd/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

type subscriber struct {
	topic   string
	handler func(events []domain.IntentEvent)
}

type eventRepository struct {
	publisher message.Publisher

	subscribers    map[string][]subscriber // topic -> subscribers
	subscriberLock *sync.Mutex
}

func NewWatermillEventRepository(publisher message.Publisher) domain.EventRepository {
	return &eventRepository{
		publisher:      publisher,
		subscribers:    make(map[string][]subscriber),
		subscriberLock: &sync.Mutex{},
	}
}

// NewInMemoryEventRepository publishes on a go channel that nobody reads
// besides the registered handlers.
func NewInMemoryEventRepository(_ ...interface{}) (domain.EventRepository, error) {
	publisher := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	return NewWatermillEventRepository(publisher), nil
}

// NewPostgresEventRepository journals every event in a watermill_<topic> table.
func NewPostgresEventRepository(config ...interface{}) (domain.EventRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config: expected 1 argument, got %d", len(config))
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf(
			"cannot open event repository: expected *sql.DB but got %T", config[0],
		)
	}

	publisher, err := watermillsql.NewPublisher(
		db,
		watermillsql.PublisherConfig{
			SchemaAdapter:        watermillsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		watermill.NopLogger{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return NewWatermillEventRepository(publisher), nil
}

func (e *eventRepository) ClearRegisteredHandlers(topics ...string) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	if len(topics) == 0 {
		e.subscribers = make(map[string][]subscriber)
		return
	}

	for _, topic := range topics {
		delete(e.subscribers, topic)
	}
}

func (e *eventRepository) Close() {
	//nolint:errcheck
	e.publisher.Close()
}

func (e *eventRepository) RegisterEventsHandler(
	topic string, handler func(events []domain.IntentEvent),
) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	e.subscribers[topic] = append(e.subscribers[topic], subscriber{
		topic:   topic,
		handler: handler,
	})
}

func (e *eventRepository) Save(
	_ context.Context, topic string, events ...domain.IntentEvent,
) error {
	if len(events) == 0 {
		return nil
	}
	if err := e.publisher.Publish(topic, toWatermillMessages(events)...); err != nil {
		return fmt.Errorf("failed to publish events on topic %s: %w", topic, err)
	}
	e.dispatch(topic, events)
	return nil
}

func (e *eventRepository) dispatch(topic string, events []domain.IntentEvent) {
	e.subscriberLock.Lock()
	defer e.subscriberLock.Unlock()

	for _, subscriber := range e.subscribers[topic] {
		go subscriber.handler(events)
	}
}

func toWatermillMessages(events []domain.IntentEvent) []*message.Message {
	watermillMessages := make([]*message.Message, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.WithError(err).Warnf("failed to serialize event %s", event.Id)
			continue
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("type", string(event.Type))
		msg.Metadata.Set("order_id", event.OrderId)
		watermillMessages = append(watermillMessages, msg)
	}

	return watermillMessages
}
