package models

// ChangeKind is the type of a document change event.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// LocationChangeEvent is a change event scoped to a company location
// sub-document. Delivery is at-least-once and not ordered across rapid
// successive edits; handlers must stay idempotent.
type LocationChangeEvent struct {
	EventID    string     `json:"eventId,omitempty"`
	TenantID   string     `json:"tenantId"`
	CompanyID  string     `json:"companyId"`
	LocationID string     `json:"locationId"`
	Kind       ChangeKind `json:"kind"`
	// Location carries the document body as of the event for created and
	// updated; nil for deleted.
	Location *Location `json:"location,omitempty"`
}
