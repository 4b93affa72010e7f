package notify

import (
	"encoding/json"
	"time"
)

// TopicOrderEvents carries every order lifecycle event; the concrete
// kind travels in the envelope and in an x-event-type message header so
// consumers can route without decoding the payload.
const TopicOrderEvents = "order.events"

const HeaderEventType = "x-event-type"

// Envelope is the wire frame for every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}
