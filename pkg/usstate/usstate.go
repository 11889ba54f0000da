// Package usstate normalizes free-form U.S. state input to a canonical
// two-letter code and full name.
package usstate

import (
	"regexp"
	"strings"
)

// State is a normalized U.S. state.
type State struct {
	Code string
	Name string
}

// codeToName is the fixed 50-state table.
var codeToName = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming",
}

var nameToCode = func() map[string]string {
	m := make(map[string]string, len(codeToName))
	for code, name := range codeToName {
		m[strings.ToLower(name)] = code
	}
	return m
}()

// addressStatePattern matches ", <State or XX> <zip>" fragments in free-text
// addresses, e.g. "123 Main St, Springfield, IL 62701".
var addressStatePattern = regexp.MustCompile(`,\s*([A-Za-z]{2}|[A-Za-z][A-Za-z ]+[A-Za-z])\s+\d{5}(?:-\d{4})?\b`)

// Normalize resolves raw state input to a canonical State. Accepts a
// two-letter code in any case, or a full state name. Returns false when the
// input resolves to no state.
func Normalize(raw string) (State, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return State{}, false
	}
	if len(trimmed) == 2 {
		code := strings.ToUpper(trimmed)
		if name, ok := codeToName[code]; ok {
			return State{Code: code, Name: name}, true
		}
		return State{}, false
	}
	if code, ok := nameToCode[strings.ToLower(trimmed)]; ok {
		return State{Code: code, Name: codeToName[code]}, true
	}
	return State{}, false
}

// FromAddress extracts a state from a free-text address by locating a
// ", <State|XX> <zip>" fragment. Returns false when no fragment resolves.
func FromAddress(address string) (State, bool) {
	for _, match := range addressStatePattern.FindAllStringSubmatch(address, -1) {
		if st, ok := Normalize(match[1]); ok {
			return st, true
		}
	}
	return State{}, false
}
