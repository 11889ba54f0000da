// Package score computes how filled-in an entity record is. The duplicate
// resolver uses the score to rank group members; nothing else consumes it.
package score

import "lattice/internal/entity/models"

// importantFields is the fixed, kind-specific field list a record is scored
// against.
var importantFields = map[string][]string{
	models.CollectionCompanies: {
		"name", "phone", "website", "address", "city", "state", "zip",
		"externalId", "searchKeywords", "associations",
	},
	models.CollectionContacts: {
		"fullName", "firstName", "lastName", "email", "phone", "title",
		"companyId", "externalId", "searchKeywords", "associations",
	},
	models.CollectionCandidates: {
		"fullName", "firstName", "lastName", "email", "phone", "title",
		"searchKeywords",
	},
	models.CollectionDeals: {
		"name", "stage", "amount", "companyId", "contactIds",
		"salespersonIds", "associations",
	},
	models.CollectionSalespeople: {
		"name", "email", "phone",
	},
}

// FieldsFor returns the important fields for a collection. Collections
// without a fixed list score zero for every record.
func FieldsFor(collection string) []string {
	return importantFields[collection]
}

// Completeness returns the fraction of important fields present on the
// record, in [0,1]. Deterministic and side-effect free.
func Completeness(collection string, data map[string]any) float64 {
	fields := importantFields[collection]
	if len(fields) == 0 {
		return 0
	}
	present := 0
	for _, field := range fields {
		if isPresent(data[field]) {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

// isPresent counts non-empty strings, numbers, booleans, non-empty arrays
// and non-empty objects. nil and empty containers are absent.
func isPresent(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case []string:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		// Numbers and booleans count as present whatever their value.
		return true
	}
}
