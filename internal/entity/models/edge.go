package models

import "time"

// AssociationEdge is a first-class relationship record between two entities,
// stored in the tenant-scoped edge collection. Edges are a projection built
// from embedded association references and are additive only; nothing keeps
// them transactionally consistent with the references they mirror.
type AssociationEdge struct {
	ID               string         `json:"id,omitempty"`
	TenantID         string         `json:"tenantId,omitempty"`
	SourceEntityType string         `json:"sourceEntityType"`
	SourceEntityID   string         `json:"sourceEntityId"`
	TargetEntityType string         `json:"targetEntityType"`
	TargetEntityID   string         `json:"targetEntityId"`
	AssociationType  string         `json:"associationType"`
	Role             string         `json:"role,omitempty"`
	Strength         float64        `json:"strength"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Doc returns the edge as a document payload.
func (e AssociationEdge) Doc() map[string]any {
	doc := map[string]any{
		"tenantId":         e.TenantID,
		"sourceEntityType": e.SourceEntityType,
		"sourceEntityId":   e.SourceEntityID,
		"targetEntityType": e.TargetEntityType,
		"targetEntityId":   e.TargetEntityID,
		"associationType":  e.AssociationType,
		"strength":         e.Strength,
		"createdAt":        e.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":        e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if e.Role != "" {
		doc["role"] = e.Role
	}
	if len(e.Metadata) > 0 {
		doc["metadata"] = e.Metadata
	}
	return doc
}
