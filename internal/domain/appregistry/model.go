package appregistry

import (
	"github.com/creditrail/creditrail/internal/types"
	"github.com/lib/pq"
)

// Application is a registered downstream application silo (crm, hr, ...).
type Application struct {
	ID      string `db:"id" json:"id"`
	AppCode string `db:"app_code" json:"app_code"`
	types.BaseModel
}

func (a *Application) TableName() string {
	return "applications"
}

// Module belongs to an application and carries the permission codes from
// which the full set of operation codes is derived.
type Module struct {
	ID          string         `db:"id" json:"id"`
	AppID       string         `db:"app_id" json:"app_id"`
	ModuleCode  string         `db:"module_code" json:"module_code"`
	Permissions pq.StringArray `db:"permissions" json:"permissions"`
	types.BaseModel
}

func (m *Module) TableName() string {
	return "application_modules"
}

// OperationCodes expands the module's permission list into fully qualified
// operation codes for the owning application.
func (m *Module) OperationCodes(appCode string) []types.OperationCode {
	codes := make([]types.OperationCode, 0, len(m.Permissions))
	for _, permission := range m.Permissions {
		codes = append(codes, types.NewOperationCode(appCode, m.ModuleCode, permission))
	}
	return codes
}
