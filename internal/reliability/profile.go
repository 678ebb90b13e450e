package reliability

import (
	"time"

	"github.com/creditrail/creditrail/internal/types"
)

// Profile is the operational contract of the event distribution pipeline.
// The values are targets the deployment is engineered and alerted against,
// not runtime switches.
type Profile struct {
	// DeliverySuccessTarget is the share of published events that must
	// reach their consumers.
	DeliverySuccessTarget float64 `json:"delivery_success_target"`
	// AckRoundTripTarget is the share of delivered events whose
	// acknowledgment must arrive inside the ack window.
	AckRoundTripTarget float64 `json:"ack_round_trip_target"`
	// PublishLatencyP95 bounds the 95th percentile of publish-to-confirm
	// latency under broker degradation.
	PublishLatencyP95 time.Duration `json:"publish_latency_p95"`
	// RecoveryTimeObjective is the maximum tolerated outage of the
	// distribution pipeline.
	RecoveryTimeObjective time.Duration `json:"recovery_time_objective"`
	// RecoveryPointObjective is the maximum tolerated loss window of
	// confirmed events.
	RecoveryPointObjective time.Duration `json:"recovery_point_objective"`
}

// Default returns the profile the pipeline is operated against.
func Default() Profile {
	return Profile{
		DeliverySuccessTarget:  0.9999,
		AckRoundTripTarget:     0.999,
		PublishLatencyP95:      5 * time.Second,
		RecoveryTimeObjective:  15 * time.Minute,
		RecoveryPointObjective: 5 * time.Minute,
	}
}

// FailureClasses enumerates the taxonomy every pipeline failure is classified
// into. Log lines and failed acknowledgments carry exactly one of these.
func FailureClasses() []types.FailureClass {
	return []types.FailureClass{
		types.FailureBrokerUnavailable,
		types.FailureUnroutableMessage,
		types.FailurePublishConfirmTimeout,
		types.FailureConsumerProcessingFailure,
		types.FailureRetryExhausted,
		types.FailureAuthConfiguration,
		types.FailureContractDrift,
		types.FailureReconciliationDrift,
		types.FailureUnknown,
	}
}
