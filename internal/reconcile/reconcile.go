// Package reconcile holds the small shared vocabulary of the reconciliation
// jobs: per-item error aggregation and the engine tracer. The jobs
// themselves live in subpackages.
package reconcile

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ItemError records a per-entity recoverable failure. Runs aggregate these
// instead of aborting; only fatal conditions surface as returned errors.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Item wraps an id and error into an ItemError.
func Item(id string, err error) ItemError {
	return ItemError{ID: id, Error: err.Error()}
}

// Tracer returns the tracer reconciliation runs create spans on.
func Tracer() trace.Tracer {
	return otel.Tracer("lattice/internal/reconcile")
}
