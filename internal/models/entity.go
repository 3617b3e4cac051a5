// Package models provides data model definitions for the catalog sync core.
package models

import "fmt"

// Entity identifies one of the catalog data types managed by the core.
type Entity string

const (
	EntityProduct  Entity = "product"
	EntityCategory Entity = "category"
	EntityBrand    Entity = "brand"
)

// Entities lists every entity in a stable order.
var Entities = []Entity{EntityProduct, EntityCategory, EntityBrand}

// IsValid reports whether e is a known entity.
func (e Entity) IsValid() bool {
	switch e {
	case EntityProduct, EntityCategory, EntityBrand:
		return true
	}
	return false
}

// Table returns the remote backend table holding rows of this entity.
func (e Entity) Table() string {
	switch e {
	case EntityProduct:
		return "products"
	case EntityCategory:
		return "utility_categories"
	case EntityBrand:
		return "brands"
	}
	return ""
}

// ParseEntity converts a string (as typed on the CLI or sent over REST) to an Entity.
func ParseEntity(s string) (Entity, error) {
	e := Entity(s)
	if !e.IsValid() {
		return "", fmt.Errorf("unknown entity %q", s)
	}
	return e, nil
}

// ActionType is the kind of mutation recorded in the offline queue.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// IsValid reports whether t is a known action type.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ParseActionType converts a string to an ActionType.
func ParseActionType(s string) (ActionType, error) {
	t := ActionType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return t, nil
}

// Identifiable is implemented by every cached entity.
type Identifiable interface {
	GetID() string
}
