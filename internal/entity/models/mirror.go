package models

import "fmt"

// LocationStateMirror is the derived per-(company,location) projection of
// normalized U.S. state data. Its existence implies the source location
// currently resolves to a non-nil state code.
type LocationStateMirror struct {
	ID        string `json:"id,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	CompanyID string `json:"companyId"`
	State     string `json:"state,omitempty"`
	StateCode string `json:"stateCode"`
	StateName string `json:"stateName"`
}

// MirrorID is the deterministic composite key of a mirror record.
func MirrorID(companyID, locationID string) string {
	return fmt.Sprintf("%s_%s", companyID, locationID)
}
