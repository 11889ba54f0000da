package mirror

import (
	"context"
	"encoding/json"
	"log/slog"

	"lattice/internal/entity/models"
	"lattice/internal/platform/kafka/consumer"
)

// EventHandler adapts the mirror service to the Kafka consumer: it decodes
// location change events and suppresses redeliveries through the marker.
type EventHandler struct {
	service *Service
	marker  Marker
	logger  *slog.Logger
}

// NewEventHandler creates the handler. A nil marker disables redelivery
// suppression (the service stays idempotent either way).
func NewEventHandler(service *Service, marker Marker, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, marker: marker, logger: logger}
}

// Handle processes one change-event message. Undecodable payloads are
// dropped after logging; redelivering them cannot succeed.
func (h *EventHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var ev models.LocationChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		h.logger.ErrorContext(ctx, "dropping undecodable location event",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err.Error(),
		)
		return nil
	}

	if h.marker != nil {
		first, err := h.marker.First(ctx, ev.EventID)
		if err != nil {
			// Marker outage degrades to plain at-least-once handling.
			h.logger.WarnContext(ctx, "event marker unavailable, processing anyway",
				"event_id", ev.EventID,
				"error", err.Error(),
			)
		} else if !first {
			return nil
		}
	}

	return h.service.HandleEvent(ctx, ev)
}
