package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationCodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		code    OperationCode
		wantErr bool
	}{
		{name: "valid", code: "crm.contacts.create"},
		{name: "valid with underscores", code: "hr.leave_requests.approve_all"},
		{name: "valid with digits", code: "app2.module3.read"},
		{name: "two segments", code: "crm.contacts", wantErr: true},
		{name: "four segments", code: "crm.contacts.create.extra", wantErr: true},
		{name: "empty", code: "", wantErr: true},
		{name: "empty segment", code: "crm..create", wantErr: true},
		{name: "trailing dot", code: "crm.contacts.", wantErr: true},
		{name: "uppercase", code: "CRM.Contacts.Create", wantErr: true},
		{name: "hyphen", code: "crm.contact-book.create", wantErr: true},
		{name: "space", code: "crm.contacts.create now", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.code.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOperationCodeSegments(t *testing.T) {
	code := NewOperationCode("crm", "contacts", "create")
	assert.Equal(t, OperationCode("crm.contacts.create"), code)
	assert.Equal(t, "crm", code.AppCode())
	assert.Equal(t, "contacts", code.ModuleCode())
	assert.Equal(t, "create", code.Permission())
}

func TestOperationCodeSegmentsMalformed(t *testing.T) {
	code := OperationCode("crm.contacts")
	assert.Equal(t, "crm", code.AppCode())
	assert.Equal(t, "", code.ModuleCode())
	assert.Equal(t, "", code.Permission())

	assert.Equal(t, "", OperationCode("crm").AppCode())
}
