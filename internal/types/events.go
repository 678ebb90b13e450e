package types

import "strings"

// InterAppEventType names an event distributed between applications. Dotted
// form; underscores are converted to dots when deriving routing keys.
type InterAppEventType string

const (
	EventCreditAllocated   InterAppEventType = "credit.allocated"
	EventCreditConsumed    InterAppEventType = "credit.consumed"
	EventCreditExpired     InterAppEventType = "credit.expired"
	EventCreditConfig      InterAppEventType = "credit_config_updated"
	EventPurchaseCompleted InterAppEventType = "purchase.completed"

	// EventAcknowledgment carries processing outcomes back to publishers on
	// the acknowledgment channel.
	EventAcknowledgment InterAppEventType = "ack"
)

func (e InterAppEventType) String() string {
	return string(e)
}

// DeriveRoutingKey builds the topic-exchange routing key for an event sent to
// a target application: "{targetApplication}.{eventType with '_' -> '.'}".
func DeriveRoutingKey(targetApplication string, eventType InterAppEventType) string {
	normalized := strings.ReplaceAll(string(eventType), "_", ".")
	return targetApplication + "." + normalized
}

// AckRoutingKey builds the acknowledgment-channel routing key for events
// originating from the given application.
func AckRoutingKey(sourceApplication string) string {
	return "acks." + sourceApplication
}

// AckStatus is the processing outcome mirrored on the acknowledgment channel.
type AckStatus string

const (
	AckStatusProcessed AckStatus = "processed"
	AckStatusFailed    AckStatus = "failed"
)

// FailureClass tags an outbound event whose acknowledgment came back failed.
// One of nine classes from the reliability profile.
type FailureClass string

const (
	FailureBrokerUnavailable         FailureClass = "broker_unavailable"
	FailureUnroutableMessage         FailureClass = "unroutable_message"
	FailurePublishConfirmTimeout     FailureClass = "publish_confirm_timeout"
	FailureConsumerProcessingFailure FailureClass = "consumer_processing_failure"
	FailureRetryExhausted            FailureClass = "retry_exhausted"
	FailureAuthConfiguration         FailureClass = "auth_configuration_error"
	FailureContractDrift             FailureClass = "contract_drift"
	FailureReconciliationDrift       FailureClass = "reconciliation_drift"
	FailureUnknown                   FailureClass = "unknown"
)
