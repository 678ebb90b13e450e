package entity

import (
	"github.com/creditrail/creditrail/internal/types"
)

// Entity is an organization or sub-organization node inside a tenant. The
// nodes form a forest; at most one root per tenant carries no parent.
type Entity struct {
	ID         string           `db:"id" json:"id"`
	EntityType types.EntityType `db:"entity_type" json:"entity_type"`
	ParentID   *string          `db:"parent_entity_id" json:"parent_entity_id,omitempty"`
	Name       string           `db:"entity_name" json:"entity_name"`
	IsActive   bool             `db:"is_active" json:"is_active"`
	IsDefault  bool             `db:"is_default" json:"is_default"`
	types.BaseModel
}

func (e *Entity) TableName() string {
	return "entities"
}

// IsRoot reports whether the entity is a tree root.
func (e *Entity) IsRoot() bool {
	return e.ParentID == nil
}
