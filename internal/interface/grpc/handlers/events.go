package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arkade-os/solverd/internal/core/domain"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	log "github.com/sirupsen/logrus"
)

const heartbeatInterval = 15 * time.Second

type eventView struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	OrderId   string `json:"orderId"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventsHandler streams intent lifecycle events as server-sent events.
type EventsHandler struct {
	broker *broker[domain.IntentEvent]
}

func NewEventsHandler(events domain.EventRepository) *EventsHandler {
	h := &EventsHandler{newBroker[domain.IntentEvent]()}
	events.RegisterEventsHandler(domain.IntentTopic, h.onEvents)
	return h
}

func (h *EventsHandler) RegisterRoutes(mux *runtime.ServeMux) error {
	return mux.HandlePath(http.MethodGet, "/v1/events", h.Stream)
}

func (h *EventsHandler) onEvents(events []domain.IntentEvent) {
	if !h.broker.hasListeners() {
		return
	}
	for _, event := range events {
		dropped := h.broker.publish(event, event.OrderId)
		for _, id := range dropped {
			log.Warnf("event listener %s is lagging, dropped event %s", id, event.Id)
		}
	}
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming not supported"))
		return
	}

	topics := make([]string, 0)
	for _, orderId := range r.URL.Query()["order_id"] {
		id, err := parseOrderId(orderId)
		if err != nil {
			writeError(w, err)
			return
		}
		topics = append(topics, id)
	}

	listener := newListener[domain.IntentEvent](uuid.NewString(), topics)
	h.broker.pushListener(listener)
	defer h.broker.removeListener(listener.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-listener.ch:
			if !ok {
				return
			}
			buf, err := json.Marshal(eventView{
				Id:        event.Id,
				Type:      string(event.Type),
				OrderId:   event.OrderId,
				From:      string(event.From),
				To:        string(event.To),
				Reason:    event.Reason,
				Timestamp: event.Timestamp.Unix(),
			})
			if err != nil {
				log.WithError(err).Warn("failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(
				w, "id: %s\nevent: %s\ndata: %s\n\n", event.Id, event.Type, buf,
			); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
