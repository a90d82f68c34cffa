package domain

import (
	"encoding/json"
	"time"
)

type ResourceKind string

const (
	ResourceVenue ResourceKind = "venue"
	ResourceEvent ResourceKind = "event"
)

type Modification string

const (
	ModificationAdd             Modification = "Add"
	ModificationUpdate          Modification = "Update"
	ModificationDelete          Modification = "Delete"
	ModificationAssignOffer     Modification = "AssignOffer"
	ModificationUnassignOffer   Modification = "UnassignOffer"
	ModificationUpdateOffer     Modification = "UpdateOffer"
	ModificationAssignLoyalty   Modification = "AssignLoyalty"
	ModificationUnassignLoyalty Modification = "UnassignLoyalty"
	ModificationUpdateLoyalty   Modification = "UpdateLoyalty"
)

// TargetsSubResource reports whether m touches a single embedded offer or
// loyalty program instead of the whole resource.
func (m Modification) TargetsSubResource() bool {
	switch m {
	case ModificationAssignOffer, ModificationUnassignOffer, ModificationUpdateOffer,
		ModificationAssignLoyalty, ModificationUnassignLoyalty, ModificationUpdateLoyalty:
		return true
	}
	return false
}

func (m Modification) Valid() bool {
	switch m {
	case ModificationAdd, ModificationUpdate, ModificationDelete:
		return true
	}
	return m.TargetsSubResource()
}

// ChangeRequest is a staged edit. Proposed holds the full proposed
// resource; Prior the live snapshot it was staged against.
type ChangeRequest struct {
	ID           string          `json:"id"`
	ResourceKind ResourceKind    `json:"resource_kind"`
	ResourceID   string          `json:"resource_id"`
	Modification Modification    `json:"modification"`
	FieldID      string          `json:"field_id,omitempty"`
	RequestorID  string          `json:"requestor_id"`
	Proposed     json.RawMessage `json:"proposed"`
	Prior        json.RawMessage `json:"prior,omitempty"`
	BaseVersion  int64           `json:"base_version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (c *ChangeRequest) GetID() string { return c.ID }

// ChangeRequestID is stable per resource, modification and field so that a
// resource carries at most one staged request of each shape.
func ChangeRequestID(kind ResourceKind, resourceID string, m Modification, fieldID string) string {
	id := string(kind) + ":" + resourceID + ":" + string(m)
	if fieldID != "" {
		id += ":" + fieldID
	}
	return id
}

type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) Privileged() bool { return a.Role == RoleAdmin }

// Operates reports whether the actor may propose catalog changes.
func (a Actor) Operates() bool { return a.Role == RoleOperator || a.Role == RoleAdmin }
