// Package contracts holds the event shapes shared by the mutation layer, the
// realtime hub and clients.
package contracts

// DomainEvent describes one successful change to a shopping-list item. The
// set of implementations is closed: every type must map itself to a wire kind.
type DomainEvent interface {
	Ref() ItemRef
	wireKind() WireKind
}

// ItemRef identifies the item an event concerns.
type ItemRef struct {
	HouseholdID string `json:"household_id"`
	ListID      string `json:"list_id"`
	ItemID      string `json:"item_id"`
}

func (r ItemRef) Ref() ItemRef { return r }

type ItemChecked struct{ ItemRef }
type ItemUnchecked struct{ ItemRef }
type ItemAdded struct{ ItemRef }
type ItemRemoved struct{ ItemRef }
type ItemUpdated struct{ ItemRef }

func (ItemChecked) wireKind() WireKind   { return KindItemChecked }
func (ItemUnchecked) wireKind() WireKind { return KindItemUnchecked }
func (ItemAdded) wireKind() WireKind     { return KindItemAdded }
func (ItemRemoved) wireKind() WireKind   { return KindItemRemoved }
func (ItemUpdated) wireKind() WireKind   { return KindItemUpdated }

type WireKind string

const (
	KindConnected     WireKind = "connected"
	KindPing          WireKind = "ping"
	KindItemChecked   WireKind = "item-checked"
	KindItemUnchecked WireKind = "item-unchecked"
	KindItemAdded     WireKind = "item-added"
	KindItemRemoved   WireKind = "item-removed"
	KindItemUpdated   WireKind = "item-updated"
)

// ItemScoped reports whether frames of this kind carry an itemId.
func (k WireKind) ItemScoped() bool {
	switch k {
	case KindItemChecked, KindItemUnchecked, KindItemAdded, KindItemRemoved, KindItemUpdated:
		return true
	default:
		return false
	}
}

// WireEvent is the frame pushed to list viewers.
type WireEvent struct {
	Kind   WireKind `json:"kind"`
	ItemID string   `json:"itemId,omitempty"`
}

var (
	Connected = WireEvent{Kind: KindConnected}
	Ping      = WireEvent{Kind: KindPing}
)

// Translate reduces a domain event to its wire form.
func Translate(event DomainEvent) WireEvent {
	return WireEvent{Kind: event.wireKind(), ItemID: event.Ref().ItemID}
}

// ListEvent is a wire event addressed to one list, as carried between API
// instances by the relay bus.
type ListEvent struct {
	ListID string    `json:"list_id"`
	Event  WireEvent `json:"event"`
}
