package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/shopspring/decimal"
)

// InterAppEvent is the wire envelope of every message on the inter-app bus.
type InterAppEvent struct {
	EventID           string                  `json:"eventId"`
	EventType         types.InterAppEventType `json:"eventType"`
	SourceApplication string                  `json:"sourceApplication"`
	TargetApplication string                  `json:"targetApplication"`
	TenantID          string                  `json:"tenantId"`
	EntityID          string                  `json:"entityId"`
	Timestamp         time.Time               `json:"timestamp"`
	EventData         json.RawMessage         `json:"eventData"`
	PublishedBy       string                  `json:"publishedBy"`
}

// NewEventID returns a bus-unique event identifier of the form
// inter_<unixMillis>_<random8>.
func NewEventID(now time.Time) string {
	suffix := types.GenerateShortID()
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("inter_%d_%s", now.UnixMilli(), suffix)
}

// Validate enforces the envelope contract. Missing required fields are
// contract drift, not validation errors: the payload crossed an application
// boundary in a shape the consumer does not recognize.
func (e *InterAppEvent) Validate() error {
	missing := []string{}
	if e.EventID == "" {
		missing = append(missing, "eventId")
	}
	if e.EventType == "" {
		missing = append(missing, "eventType")
	}
	if e.SourceApplication == "" {
		missing = append(missing, "sourceApplication")
	}
	if e.TenantID == "" {
		missing = append(missing, "tenantId")
	}
	if len(missing) > 0 {
		return ierr.NewError("event envelope is missing required fields").
			WithHint("The event does not satisfy the inter-application contract").
			WithReportableDetails(map[string]any{
				"event_id":       e.EventID,
				"missing_fields": missing,
			}).
			Mark(ierr.ErrContractDrift)
	}
	return nil
}

// CreditEventData is the payload of credit.allocated, credit.consumed and
// credit.expired events.
type CreditEventData struct {
	EntityID      string          `json:"entityId"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	OperationCode string          `json:"operationCode,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	AllocationID  string          `json:"allocationId,omitempty"`
	CampaignID    string          `json:"campaignId,omitempty"`
}

// ConfigEventData is the payload of credit_config_updated events.
type ConfigEventData struct {
	OperationCode string          `json:"operationCode"`
	CreditCost    decimal.Decimal `json:"creditCost"`
	Scope         string          `json:"scope"`
}

// PurchaseEventData is the payload of purchase.completed events.
type PurchaseEventData struct {
	PurchaseID    string          `json:"purchaseId"`
	EntityID      string          `json:"entityId"`
	CreditAmount  decimal.Decimal `json:"creditAmount"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	PaymentMethod string          `json:"paymentMethod"`
}

// DirectoryEventData is the payload of role.*, user.*, org.* and
// org_assignment.* events relayed for downstream applications.
type DirectoryEventData struct {
	SubjectID string         `json:"subjectId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// DecodeData decodes the envelope payload into its typed form based on the
// event type discriminator. Unknown event types are contract drift.
func (e *InterAppEvent) DecodeData() (any, error) {
	var (
		target any
		prefix = categoryOf(e.EventType)
	)

	switch prefix {
	case "credit":
		target = &CreditEventData{}
	case "credit_config":
		target = &ConfigEventData{}
	case "purchase":
		target = &PurchaseEventData{}
	case "role", "user", "org", "org_assignment":
		target = &DirectoryEventData{}
	default:
		return nil, ierr.NewError("unknown event type").
			WithHint("The event type is outside the inter-application contract").
			WithReportableDetails(map[string]any{
				"event_id":   e.EventID,
				"event_type": e.EventType,
			}).
			Mark(ierr.ErrContractDrift)
	}

	if err := json.Unmarshal(e.EventData, target); err != nil {
		return nil, ierr.WithError(err).
			WithHint("The event payload does not decode into its declared type").
			WithReportableDetails(map[string]any{
				"event_id":   e.EventID,
				"event_type": e.EventType,
			}).
			Mark(ierr.ErrContractDrift)
	}
	return target, nil
}

func categoryOf(eventType types.InterAppEventType) string {
	s := string(eventType)
	if strings.HasPrefix(s, "credit_config") {
		return "credit_config"
	}
	if strings.HasPrefix(s, "org_assignment") {
		return "org_assignment"
	}
	if idx := strings.IndexByte(s, '.'); idx > 0 {
		return s[:idx]
	}
	return s
}
