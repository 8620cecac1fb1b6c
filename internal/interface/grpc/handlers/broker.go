package handlers

import (
	"fmt"
	"strings"
	"sync"
)

type listener[T any] struct {
	id     string
	topics map[string]struct{}
	ch     chan T
}

func newListener[T any](id string, topics []string) *listener[T] {
	topicsMap := make(map[string]struct{})
	for _, topic := range topics {
		topicsMap[formatTopic(topic)] = struct{}{}
	}
	return &listener[T]{
		id:     id,
		topics: topicsMap,
		ch:     make(chan T, 100),
	}
}

// includesAny returns true if the listener has no topic filter or if it is
// subscribed to any of the given topics.
func (l *listener[T]) includesAny(topics []string) bool {
	if len(l.topics) == 0 || len(topics) == 0 {
		return true
	}

	for _, topic := range topics {
		if _, ok := l.topics[formatTopic(topic)]; ok {
			return true
		}
	}
	return false
}

// broker fans out events to the listeners subscribed to their topics.
// it is thread safe.
type broker[T any] struct {
	lock      *sync.RWMutex
	listeners map[string]*listener[T]
}

func newBroker[T any]() *broker[T] {
	return &broker[T]{
		lock:      &sync.RWMutex{},
		listeners: make(map[string]*listener[T], 0),
	}
}

func (h *broker[T]) pushListener(l *listener[T]) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.listeners[l.id] = l
}

func (h *broker[T]) removeListener(id string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	listener, ok := h.listeners[id]
	if !ok {
		return
	}
	close(listener.ch)
	delete(h.listeners, id)
}

func (h *broker[T]) getListenerChannel(id string) (chan T, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	listener, ok := h.listeners[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return listener.ch, nil
}

// publish delivers the event to every interested listener, it returns the
// ids of the listeners whose buffer was full and missed the event.
func (h *broker[T]) publish(event T, topics ...string) []string {
	h.lock.RLock()
	defer h.lock.RUnlock()

	dropped := make([]string, 0)
	for id, l := range h.listeners {
		if !l.includesAny(topics) {
			continue
		}
		select {
		case l.ch <- event:
		default:
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (h *broker[T]) hasListeners() bool {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.listeners) > 0
}

func formatTopic(topic string) string {
	return strings.Trim(strings.ToLower(topic), " ")
}
