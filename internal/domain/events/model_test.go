package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	ierr "github.com/creditrail/creditrail/internal/errors"
	"github.com/creditrail/creditrail/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *InterAppEvent {
	data, _ := json.Marshal(&CreditEventData{EntityID: "ent-1"})
	return &InterAppEvent{
		EventID:           NewEventID(time.Now().UTC()),
		EventType:         types.EventCreditAllocated,
		SourceApplication: "credit_service",
		TargetApplication: "crm",
		TenantID:          "tenant-1",
		EntityID:          "ent-1",
		Timestamp:         time.Now().UTC(),
		EventData:         data,
	}
}

func TestNewEventIDFormat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewEventID(now)

	parts := strings.SplitN(id, "_", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "inter", parts[0])
	assert.Equal(t, "1772366400000", parts[1])
	assert.NotEmpty(t, parts[2])
	assert.LessOrEqual(t, len(parts[2]), 8)
}

func TestNewEventIDUnique(t *testing.T) {
	now := time.Now().UTC()
	assert.NotEqual(t, NewEventID(now), NewEventID(now))
}

func TestValidateAcceptsCompleteEnvelope(t *testing.T) {
	assert.NoError(t, validEvent().Validate())
}

func TestValidateMissingFieldsAreContractDrift(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*InterAppEvent)
	}{
		{name: "missing event id", mutate: func(e *InterAppEvent) { e.EventID = "" }},
		{name: "missing event type", mutate: func(e *InterAppEvent) { e.EventType = "" }},
		{name: "missing source", mutate: func(e *InterAppEvent) { e.SourceApplication = "" }},
		{name: "missing tenant", mutate: func(e *InterAppEvent) { e.TenantID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)
			err := event.Validate()
			require.Error(t, err)
			assert.True(t, ierr.Is(err, ierr.ErrContractDrift))
		})
	}
}

func TestDecodeDataByEventType(t *testing.T) {
	event := validEvent()
	decoded, err := event.DecodeData()
	require.NoError(t, err)
	credit, ok := decoded.(*CreditEventData)
	require.True(t, ok)
	assert.Equal(t, "ent-1", credit.EntityID)

	event.EventType = types.EventCreditConfig
	event.EventData, _ = json.Marshal(&ConfigEventData{OperationCode: "crm.contacts.create"})
	decoded, err = event.DecodeData()
	require.NoError(t, err)
	config, ok := decoded.(*ConfigEventData)
	require.True(t, ok)
	assert.Equal(t, "crm.contacts.create", config.OperationCode)

	event.EventType = types.EventPurchaseCompleted
	event.EventData, _ = json.Marshal(&PurchaseEventData{PurchaseID: "pur-1"})
	decoded, err = event.DecodeData()
	require.NoError(t, err)
	purchase, ok := decoded.(*PurchaseEventData)
	require.True(t, ok)
	assert.Equal(t, "pur-1", purchase.PurchaseID)

	event.EventType = "user.created"
	event.EventData, _ = json.Marshal(&DirectoryEventData{SubjectID: "user-1", Action: "created"})
	decoded, err = event.DecodeData()
	require.NoError(t, err)
	directory, ok := decoded.(*DirectoryEventData)
	require.True(t, ok)
	assert.Equal(t, "user-1", directory.SubjectID)
}

func TestDecodeDataUnknownTypeIsContractDrift(t *testing.T) {
	event := validEvent()
	event.EventType = "inventory.restocked"

	_, err := event.DecodeData()
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrContractDrift))
}

func TestDecodeDataMalformedPayloadIsContractDrift(t *testing.T) {
	event := validEvent()
	event.EventData = json.RawMessage(`{"amount": "not-a-number"`)

	_, err := event.DecodeData()
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrContractDrift))
}
