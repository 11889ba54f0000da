// Package models defines the typed views of store documents, decoded at the
// read boundary so reconciliation logic never reaches into untyped payloads.
package models

import (
	"encoding/json"
	"fmt"

	"lattice/internal/entity/store"
)

// Collection names, tenant-scoped in the store.
const (
	CollectionCompanies      = "companies"
	CollectionContacts       = "contacts"
	CollectionDeals          = "deals"
	CollectionSalespeople    = "salespeople"
	CollectionCandidates     = "candidates"
	CollectionJobOrders      = "jobOrders"
	CollectionLocations      = "locations"
	CollectionAssociations   = "entityAssociations"
	CollectionLocationStates = "locationStates"
)

// Association reference kinds embedded under an entity's associations map.
const (
	RefKindCompanies   = "companies"
	RefKindContacts    = "contacts"
	RefKindSalespeople = "salespeople"
	RefKindLocations   = "locations"
	RefKindDeals       = "deals"
)

// RefKinds lists every association reference kind, in the order the
// synchronizer walks them.
var RefKinds = []string{RefKindCompanies, RefKindContacts, RefKindSalespeople, RefKindLocations, RefKindDeals}

// RefCollection maps a reference kind to the collection holding its
// canonical entities.
func RefCollection(kind string) (string, bool) {
	switch kind {
	case RefKindCompanies:
		return CollectionCompanies, true
	case RefKindContacts:
		return CollectionContacts, true
	case RefKindSalespeople:
		return CollectionSalespeople, true
	case RefKindLocations:
		return CollectionLocations, true
	case RefKindDeals:
		return CollectionDeals, true
	}
	return "", false
}

// Decode unmarshals a document payload into a typed view via JSON
// round-trip. Writes never re-encode whole decoded structs (all writes are
// field-scoped), so unmodeled fields survive.
func Decode[T any](doc store.Document) (T, error) {
	var out T
	raw, err := json.Marshal(doc.Data)
	if err != nil {
		return out, fmt.Errorf("encode document %s: %w", doc.Key, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode document %s: %w", doc.Key, err)
	}
	return out, nil
}

// AssociationRef is one entry in an owning entity's associations.<kind>
// list. Snapshot is a partial denormalized copy of the referenced entity's
// display fields; a ref missing core snapshot fields is stale and eligible
// for synchronization.
type AssociationRef struct {
	ID       string         `json:"id"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}

// HasCoreSnapshot reports whether the ref carries the core display fields.
// The synchronizer must never overwrite a ref that already has them.
func (r AssociationRef) HasCoreSnapshot() bool {
	if r.Snapshot == nil {
		return false
	}
	name, _ := r.Snapshot["name"].(string)
	return name != ""
}
