package events

import (
	"time"

	"github.com/creditrail/creditrail/internal/types"
)

// AcknowledgmentEvent mirrors the processing outcome of a delivered event
// back to its publisher on the acks.<sourceApplication> routing key.
type AcknowledgmentEvent struct {
	OriginalEventID string          `json:"originalEventId"`
	Status          types.AckStatus `json:"status"`
	ProcessedAt     time.Time       `json:"processedAt"`
	Result          string          `json:"result,omitempty"`
	Error           *AckError       `json:"error,omitempty"`
}

// AckError carries the failure class and message of a failed consumption.
type AckError struct {
	Class   types.FailureClass `json:"class"`
	Message string             `json:"message"`
}

// PublishReceipt is returned to publishers once the broker confirms a
// publish.
type PublishReceipt struct {
	EventID    string `json:"eventId"`
	RoutingKey string `json:"routingKey"`
}
