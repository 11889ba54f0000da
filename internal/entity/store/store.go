// Package store defines the document-store seam the reconciliation engine
// runs against. The engine never talks to a concrete store directly; it is
// handed a Store so tests can run on the in-memory implementation and
// production runs on Postgres.
package store

import (
	"context"
	"fmt"
)

// Key addresses a single document.
type Key struct {
	TenantID   string
	Collection string
	ID         string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.Collection, k.ID)
}

// Document is a tenant-scoped record as read from the store. Data holds the
// raw payload; typed views are decoded at the read boundary by the models
// package.
type Document struct {
	Key  Key
	Data map[string]any
}

// ID returns the store-assigned document id.
func (d Document) ID() string { return d.Key.ID }

// String returns the string value of a top-level field, or "" when the field
// is absent or not a string.
func (d Document) String(field string) string {
	s, _ := d.Data[field].(string)
	return s
}

// OpKind discriminates write operations.
type OpKind int

const (
	// OpSet replaces the document payload entirely, creating it if absent.
	OpSet OpKind = iota
	// OpMerge upserts the given fields, leaving unlisted fields untouched.
	OpMerge
	// OpUpdate sets the given fields on an existing document.
	OpUpdate
	// OpDelete removes the document. Deleting an absent document is a no-op.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpMerge:
		return "merge"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("opkind(%d)", int(k))
}

// WriteOp is one pending write. Data is ignored for OpDelete.
type WriteOp struct {
	Kind OpKind
	Key  Key
	Data map[string]any
}

// Filter is a field-equality predicate for List. The zero value matches all
// documents in the collection.
type Filter struct {
	Field string
	Value any
}

// Store is the repository interface consumed by every reconciliation
// component.
//
// BatchWrite applies all ops atomically; callers bound batch size through
// the batch writer, the store enforces no limit of its own here. Get returns
// a domain-errors CodeNotFound error for absent documents.
type Store interface {
	Get(ctx context.Context, key Key) (Document, error)
	List(ctx context.Context, tenantID, collection string, filters ...Filter) ([]Document, error)
	BatchWrite(ctx context.Context, ops []WriteOp) error
}
