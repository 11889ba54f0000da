// Package snapshot keeps denormalized association snapshots fresh. A
// reference whose snapshot is missing core display fields is stale; the
// synchronizer refetches the canonical entity and merges a display
// projection back into the reference. References that already carry core
// fields are never touched, which is what makes re-runs free.
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/reconcile"
	"lattice/internal/reconcile/batch"
	"lattice/internal/reconcile/metrics"
	dErrors "lattice/pkg/domain-errors"
	"lattice/pkg/sanitize"
)

// Params configures one synchronizer run.
type Params struct {
	TenantID string `json:"tenantId"`
	// EntityID restricts the run to a single owning entity when set.
	EntityID string `json:"entityId,omitempty"`
	// Collection is the owning entity kind; defaults to deals.
	Collection string `json:"collection,omitempty"`
}

// Result is the run manifest.
type Result struct {
	Success bool                  `json:"success"`
	Scanned int                   `json:"scanned"`
	Synced  int                   `json:"synced"`
	Updated int                   `json:"updated"`
	Errors  []reconcile.ItemError `json:"errors,omitempty"`
}

// Service synchronizes association reference snapshots.
type Service struct {
	store      store.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	batchLimit int
	clock      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBatchLimit overrides the write batch limit.
func WithBatchLimit(limit int) Option {
	return func(s *Service) { s.batchLimit = limit }
}

// WithClock sets the clock. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates the synchronizer service.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      st,
		logger:     logger,
		batchLimit: batch.DefaultLimit,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// run owns the per-run canonical entity memo so repeated references to the
// same entity cost one read.
type run struct {
	svc    *Service
	params Params
	memo   map[store.Key]*store.Document
	writer *batch.Writer
	result *Result
}

// Run walks the owning entities and refreshes every stale reference.
// Running twice on unchanged data performs zero writes on the second pass.
func (s *Service) Run(ctx context.Context, params Params) (*Result, error) {
	ctx, span := reconcile.Tracer().Start(ctx, "snapshot.Run")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", params.TenantID))
	started := s.clock()

	if params.TenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}
	if params.Collection == "" {
		params.Collection = models.CollectionDeals
	}

	owners, err := s.loadOwners(ctx, params)
	if err != nil {
		return nil, err
	}

	r := &run{
		svc:    s,
		params: params,
		memo:   make(map[store.Key]*store.Document),
		writer: batch.NewWriter(s.store,
			batch.WithLimit(s.batchLimit),
			batch.WithCommitObserver(s.metrics.ObserveBatch),
		),
		result: &Result{Success: true},
	}

	for _, owner := range owners {
		r.result.Scanned++
		if err := r.syncOwner(ctx, owner); err != nil {
			r.result.Errors = append(r.result.Errors, reconcile.Item(owner.ID(), err))
			s.logger.ErrorContext(ctx, "failed to sync entity snapshots",
				"tenant_id", params.TenantID,
				"collection", params.Collection,
				"entity_id", owner.ID(),
				"error", err.Error(),
			)
		}
	}

	if err := r.writer.Flush(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "flush snapshot updates")
	}

	s.metrics.AddSnapshotsSynced(r.result.Synced)
	s.metrics.ObserveRun("snapshot", s.clock().Sub(started).Seconds())
	s.logger.InfoContext(ctx, "snapshot sync run finished",
		"tenant_id", params.TenantID,
		"collection", params.Collection,
		"scanned", r.result.Scanned,
		"synced", r.result.Synced,
		"updated", r.result.Updated,
		"errors", len(r.result.Errors),
	)
	return r.result, nil
}

func (s *Service) loadOwners(ctx context.Context, params Params) ([]store.Document, error) {
	if params.EntityID != "" {
		key := store.Key{TenantID: params.TenantID, Collection: params.Collection, ID: params.EntityID}
		doc, err := s.store.Get(ctx, key)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "entity for targeted re-sync")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load entity")
		}
		return []store.Document{doc}, nil
	}
	owners, err := s.store.List(ctx, params.TenantID, params.Collection)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load collection")
	}
	return owners, nil
}

// syncOwner refreshes every stale reference embedded in one owning entity.
// The associations tree is mutated raw so reference fields the engine does
// not model survive the rewrite.
func (r *run) syncOwner(ctx context.Context, owner store.Document) error {
	assocs, ok := owner.Data["associations"].(map[string]any)
	if !ok || len(assocs) == 0 {
		return nil
	}

	changed := false
	for _, kind := range models.RefKinds {
		refs, ok := assocs[kind].([]any)
		if !ok {
			continue
		}
		collection, ok := models.RefCollection(kind)
		if !ok {
			continue
		}
		for _, raw := range refs {
			ref, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			refreshed, err := r.syncRef(ctx, collection, ref)
			if err != nil {
				return err
			}
			if refreshed {
				changed = true
				r.result.Synced++
			}
		}
	}

	if !changed {
		return nil
	}
	r.result.Updated++
	return r.writer.Add(ctx, store.WriteOp{
		Kind: store.OpUpdate,
		Key:  owner.Key,
		Data: map[string]any{"associations": assocs},
	})
}

// syncRef refreshes one reference in place. Returns true only when the
// merge added at least one snapshot field.
func (r *run) syncRef(ctx context.Context, collection string, ref map[string]any) (bool, error) {
	snap, _ := ref["snapshot"].(map[string]any)
	if (models.AssociationRef{Snapshot: snap}).HasCoreSnapshot() {
		return false, nil
	}
	id, _ := ref["id"].(string)
	if id == "" {
		return false, nil
	}

	canonical, err := r.lookup(ctx, collection, id)
	if err != nil {
		return false, err
	}
	if canonical == nil {
		// Dangling reference: the canonical entity no longer exists. Left
		// unchanged and unreported, matching upstream behavior.
		return false, nil
	}

	projected := sanitize.Document(displayProjection(collection, canonical.Data))
	if len(projected) == 0 {
		return false, nil
	}

	if snap == nil {
		snap = make(map[string]any, len(projected))
		ref["snapshot"] = snap
	}
	// Merge, never clobber: fields a user wrote into the snapshot stay. A ref
	// counts as refreshed only when the merge actually added something, so a
	// canonical entity that can never complete the snapshot (no name to
	// project) does not queue a write on every run.
	inserted := false
	for k, v := range projected {
		if _, exists := snap[k]; !exists {
			snap[k] = v
			inserted = true
		}
	}
	return inserted, nil
}

// lookup memoizes canonical reads per run, caching misses too.
func (r *run) lookup(ctx context.Context, collection, id string) (*store.Document, error) {
	key := store.Key{TenantID: r.params.TenantID, Collection: collection, ID: id}
	if doc, ok := r.memo[key]; ok {
		return doc, nil
	}
	doc, err := r.svc.store.Get(ctx, key)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			r.memo[key] = nil
			return nil, nil
		}
		return nil, err
	}
	r.memo[key] = &doc
	return &doc, nil
}

// displayProjection derives the kind-specific snapshot fields from the
// canonical entity. Absent fields become Undefined and are stripped by
// sanitize before persistence.
func displayProjection(collection string, data map[string]any) map[string]any {
	field := func(name string) any {
		if s, ok := data[name].(string); ok && s != "" {
			return s
		}
		return sanitize.Undefined
	}

	switch collection {
	case models.CollectionCompanies:
		return map[string]any{
			"name":    field("name"),
			"phone":   field("phone"),
			"website": field("website"),
			"city":    field("city"),
			"state":   field("state"),
		}
	case models.CollectionContacts:
		return map[string]any{
			"name":  contactName(data),
			"email": field("email"),
			"phone": field("phone"),
			"title": field("title"),
		}
	case models.CollectionSalespeople:
		return map[string]any{
			"name":  field("name"),
			"email": field("email"),
			"phone": field("phone"),
		}
	case models.CollectionLocations:
		return map[string]any{
			"name":    field("name"),
			"address": field("address"),
			"city":    field("city"),
			"state":   field("state"),
			"zip":     field("zip"),
		}
	case models.CollectionDeals:
		return map[string]any{
			"name":  field("name"),
			"stage": field("stage"),
		}
	}
	return nil
}

func contactName(data map[string]any) any {
	get := func(name string) string {
		s, _ := data[name].(string)
		return s
	}
	contact := models.Contact{
		FullName:  get("fullName"),
		FirstName: get("firstName"),
		LastName:  get("lastName"),
	}
	if name := contact.DisplayName(); name != "" {
		return name
	}
	return sanitize.Undefined
}
