package events

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope wraps all domain events with common metadata
type Envelope struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope
func NewEnvelope(eventType, aggregateType, aggregateID string, data interface{}) (*Envelope, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID
func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Envelope) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
