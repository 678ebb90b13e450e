package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveRoutingKey(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		eventType InterAppEventType
		want      string
	}{
		{name: "dotted event type", target: "crm", eventType: EventCreditAllocated, want: "crm.credit.allocated"},
		{name: "consumed", target: "hr", eventType: EventCreditConsumed, want: "hr.credit.consumed"},
		{name: "underscores become dots", target: "crm", eventType: EventCreditConfig, want: "crm.credit.config.updated"},
		{name: "purchase", target: "billing", eventType: EventPurchaseCompleted, want: "billing.purchase.completed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveRoutingKey(tt.target, tt.eventType))
		})
	}
}

func TestAckRoutingKey(t *testing.T) {
	assert.Equal(t, "acks.credit_service", AckRoutingKey("credit_service"))
}
