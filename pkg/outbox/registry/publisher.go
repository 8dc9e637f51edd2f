package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/db/models"
	"github.com/evpool/evpool-backend/pkg/enums"
	"github.com/evpool/evpool-backend/pkg/outbox"
	"github.com/evpool/evpool-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, channel and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Channel        string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured channel names.
func NewEventRegistry(cfg config.NotifyConfig) (*EventRegistry, error) {
	if strings.TrimSpace(cfg.LedgerChannel) == "" {
		return nil, fmt.Errorf("ledger channel is required")
	}
	if strings.TrimSpace(cfg.VehicleChannel) == "" {
		return nil, fmt.Errorf("vehicle channel is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	reg.register(EventDescriptor{
		EventType:      enums.EventTotalChanged,
		AggregateType:  enums.AggregatePayment,
		Channel:        cfg.LedgerChannel,
		PayloadFactory: func() interface{} { return &payloads.TotalChangedEvent{} },
	})
	reg.register(EventDescriptor{
		EventType:      enums.EventVehicleBought,
		AggregateType:  enums.AggregateVehicle,
		Channel:        cfg.VehicleChannel,
		PayloadFactory: func() interface{} { return &payloads.VehicleBoughtEvent{} },
	})

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Channels lists every channel an event can be routed to.
func (r *EventRegistry) Channels() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, desc := range r.entries {
		if !seen[desc.Channel] {
			seen[desc.Channel] = true
			out = append(out, desc.Channel)
		}
	}
	return out
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if !event.AggregateType.IsValid() {
		return nil, NewNonRetryableError(fmt.Errorf("unknown aggregate type %s", event.AggregateType))
	}
	if event.EventType == enums.EventVehicleBought && desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if strings.TrimSpace(event.AggregateID) == "" {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
