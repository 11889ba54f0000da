package models

import "time"

// Contact is the typed view of a contact document.
type Contact struct {
	ID                string    `json:"id,omitempty"`
	TenantID          string    `json:"tenantId,omitempty"`
	FullName          string    `json:"fullName,omitempty"`
	FirstName         string    `json:"firstName,omitempty"`
	LastName          string    `json:"lastName,omitempty"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Title             string    `json:"title,omitempty"`
	CompanyID         string    `json:"companyId,omitempty"`
	ExternalID        string    `json:"externalId,omitempty"`
	ExternalCompanyID string    `json:"externalCompanyId,omitempty"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
}

// DisplayName prefers the full name, then first+last, then whichever part
// is present.
func (c Contact) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	if c.FirstName != "" && c.LastName != "" {
		return c.FirstName + " " + c.LastName
	}
	if c.FirstName != "" {
		return c.FirstName
	}
	return c.LastName
}

// Deal is the typed view of a deal (job order placement) document.
type Deal struct {
	ID                 string    `json:"id,omitempty"`
	TenantID           string    `json:"tenantId,omitempty"`
	Name               string    `json:"name,omitempty"`
	Stage              string    `json:"stage,omitempty"`
	Amount             float64   `json:"amount,omitempty"`
	CompanyID          string    `json:"companyId,omitempty"`
	ExternalCompanyID  string    `json:"externalCompanyId,omitempty"`
	ContactIDs         []string  `json:"contactIds,omitempty"`
	ExternalContactIDs []string  `json:"externalContactIds,omitempty"`
	SalespersonIDs     []string  `json:"salespersonIds,omitempty"`
	CreatedAt          time.Time `json:"createdAt,omitempty"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}

// Location is the typed view of a company location document. Locations live
// both as company sub-resources and in the top-level locations collection;
// CompanyID ties the two together.
type Location struct {
	ID        string    `json:"id,omitempty"`
	TenantID  string    `json:"tenantId,omitempty"`
	CompanyID string    `json:"companyId,omitempty"`
	Name      string    `json:"name,omitempty"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Zip       string    `json:"zip,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
