// Package mirror maintains the derived per-(company,location) projection of
// normalized U.S. state data. The projection is a pure function of the
// source location document; change events drive incremental updates and an
// operator-invoked rebuild recomputes everything from source.
package mirror

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/reconcile"
	"lattice/internal/reconcile/batch"
	"lattice/internal/reconcile/metrics"
	dErrors "lattice/pkg/domain-errors"
	"lattice/pkg/sanitize"
	"lattice/pkg/usstate"
)

// Service maintains the location state mirror.
type Service struct {
	store      store.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	batchLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBatchLimit overrides the write batch limit used by Rebuild.
func WithBatchLimit(limit int) Option {
	return func(s *Service) { s.batchLimit = limit }
}

// New creates the mirror service.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      st,
		logger:     logger,
		batchLimit: batch.DefaultLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Resolve normalizes a location's state fields, trying in order: the raw
// state field as a two-letter code, the raw state field as a full name, and
// a ", <State|XX> <zip>" fragment in the free-text address. Pure function.
func Resolve(loc models.Location) (usstate.State, bool) {
	if st, ok := usstate.Normalize(loc.State); ok {
		return st, true
	}
	return usstate.FromAddress(loc.Address)
}

// HandleEvent processes one location change event. Created and updated
// recompute the projection; deleted removes it. Handling is idempotent and
// order-tolerant: the mirror always reflects the event processed last.
func (s *Service) HandleEvent(ctx context.Context, ev models.LocationChangeEvent) error {
	ctx, span := reconcile.Tracer().Start(ctx, "mirror.HandleEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", ev.TenantID),
		attribute.String("change_kind", string(ev.Kind)),
	)

	if ev.TenantID == "" || ev.CompanyID == "" || ev.LocationID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "event missing tenant, company or location id")
	}

	mirrorKey := store.Key{
		TenantID:   ev.TenantID,
		Collection: models.CollectionLocationStates,
		ID:         models.MirrorID(ev.CompanyID, ev.LocationID),
	}

	switch ev.Kind {
	case models.ChangeDeleted:
		return s.deleteMirror(ctx, mirrorKey)
	case models.ChangeCreated, models.ChangeUpdated:
		loc, ok, err := s.eventLocation(ctx, ev)
		if err != nil {
			return err
		}
		if !ok {
			// Source vanished between the edit and this event; converge on
			// deletion.
			return s.deleteMirror(ctx, mirrorKey)
		}
		return s.applyLocation(ctx, mirrorKey, ev.CompanyID, loc)
	default:
		return dErrors.Newf(dErrors.CodeBadRequest, "unknown change kind %q", ev.Kind)
	}
}

// eventLocation returns the location body for the event, falling back to a
// store read when the event carries none.
func (s *Service) eventLocation(ctx context.Context, ev models.LocationChangeEvent) (models.Location, bool, error) {
	if ev.Location != nil {
		return *ev.Location, true, nil
	}
	key := store.Key{TenantID: ev.TenantID, Collection: models.CollectionLocations, ID: ev.LocationID}
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return models.Location{}, false, nil
		}
		return models.Location{}, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "load location")
	}
	loc, err := models.Decode[models.Location](doc)
	if err != nil {
		return models.Location{}, false, err
	}
	return loc, true, nil
}

// applyLocation upserts or deletes the mirror record for one location
// depending on whether its state resolves. Upserts merge so unrelated mirror
// fields are never clobbered.
func (s *Service) applyLocation(ctx context.Context, mirrorKey store.Key, companyID string, loc models.Location) error {
	st, ok := Resolve(loc)
	if !ok {
		// Invariant: no resolvable state, no mirror record.
		return s.deleteMirror(ctx, mirrorKey)
	}

	data := sanitize.Document(map[string]any{
		"companyId": companyID,
		"state":     rawOrUndefined(loc.State),
		"stateCode": st.Code,
		"stateName": st.Name,
	})
	err := s.store.BatchWrite(ctx, []store.WriteOp{{Kind: store.OpMerge, Key: mirrorKey, Data: data}})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "upsert mirror record")
	}
	s.metrics.IncMirrorUpsert()
	return nil
}

func (s *Service) deleteMirror(ctx context.Context, mirrorKey store.Key) error {
	err := s.store.BatchWrite(ctx, []store.WriteOp{{Kind: store.OpDelete, Key: mirrorKey}})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "delete mirror record")
	}
	s.metrics.IncMirrorDelete()
	return nil
}

func rawOrUndefined(raw string) any {
	if raw == "" {
		return sanitize.Undefined
	}
	return raw
}

// RebuildParams configures a full mirror rebuild.
type RebuildParams struct {
	TenantID string `json:"tenantId"`
	// CompanyID scopes the rebuild to one company when set.
	CompanyID string `json:"companyId,omitempty"`
	// Truncate deletes every existing mirror record for the tenant first.
	Truncate bool `json:"truncate,omitempty"`
}

// RebuildResult is the rebuild manifest.
type RebuildResult struct {
	Success   bool                  `json:"success"`
	Companies int                   `json:"companies"`
	Locations int                   `json:"locations"`
	Written   int                   `json:"written"`
	Truncated int                   `json:"truncated"`
	Errors    []reconcile.ItemError `json:"errors,omitempty"`
}

// Rebuild recomputes mirrors for every location of every company in scope,
// writing through the batch writer. Idempotent: rebuilding twice converges
// on the same records.
func (s *Service) Rebuild(ctx context.Context, params RebuildParams) (*RebuildResult, error) {
	ctx, span := reconcile.Tracer().Start(ctx, "mirror.Rebuild")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", params.TenantID))
	started := time.Now()

	if params.TenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}

	result := &RebuildResult{Success: true}
	writer := batch.NewWriter(s.store,
		batch.WithLimit(s.batchLimit),
		batch.WithCommitObserver(s.metrics.ObserveBatch),
	)

	if params.Truncate {
		existing, err := s.store.List(ctx, params.TenantID, models.CollectionLocationStates)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load mirror collection")
		}
		for _, doc := range existing {
			if err := writer.Add(ctx, store.WriteOp{Kind: store.OpDelete, Key: doc.Key}); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "truncate mirror collection")
			}
			result.Truncated++
		}
	}

	companies, err := s.rebuildScope(ctx, params)
	if err != nil {
		return nil, err
	}
	result.Companies = len(companies)

	for _, companyID := range companies {
		locations, err := s.store.List(ctx, params.TenantID, models.CollectionLocations,
			store.Filter{Field: "companyId", Value: companyID})
		if err != nil {
			result.Errors = append(result.Errors, reconcile.Item(companyID, err))
			continue
		}
		for _, locDoc := range locations {
			result.Locations++
			loc, err := models.Decode[models.Location](locDoc)
			if err != nil {
				result.Errors = append(result.Errors, reconcile.Item(locDoc.ID(), err))
				continue
			}
			st, ok := Resolve(loc)
			if !ok {
				continue
			}
			data := sanitize.Document(map[string]any{
				"companyId": companyID,
				"state":     rawOrUndefined(loc.State),
				"stateCode": st.Code,
				"stateName": st.Name,
			})
			op := store.WriteOp{
				Kind: store.OpMerge,
				Key: store.Key{
					TenantID:   params.TenantID,
					Collection: models.CollectionLocationStates,
					ID:         models.MirrorID(companyID, locDoc.ID()),
				},
				Data: data,
			}
			if err := writer.Add(ctx, op); err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "queue mirror upsert")
			}
			result.Written++
		}
	}

	if err := writer.Flush(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "flush mirror writes")
	}

	s.metrics.ObserveRun("mirror_rebuild", time.Since(started).Seconds())
	s.logger.InfoContext(ctx, "mirror rebuild finished",
		"tenant_id", params.TenantID,
		"companies", result.Companies,
		"locations", result.Locations,
		"written", result.Written,
		"truncated", result.Truncated,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (s *Service) rebuildScope(ctx context.Context, params RebuildParams) ([]string, error) {
	if params.CompanyID != "" {
		return []string{params.CompanyID}, nil
	}
	companies, err := s.store.List(ctx, params.TenantID, models.CollectionCompanies)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load companies")
	}
	ids := make([]string, 0, len(companies))
	for _, doc := range companies {
		ids = append(ids, doc.ID())
	}
	return ids, nil
}

// DiagnosticsParams configures a diagnostics query.
type DiagnosticsParams struct {
	TenantID string `json:"tenantId"`
	// State selects which state's sample records to return.
	State string `json:"state,omitempty"`
	// SampleLimit caps returned samples; defaults to 5.
	SampleLimit int `json:"sampleLimit,omitempty"`
}

// Diagnostics summarizes the mirror collection for operator verification.
type Diagnostics struct {
	Success bool                         `json:"success"`
	Total   int                          `json:"total"`
	ByState map[string]int               `json:"byState"`
	Samples []models.LocationStateMirror `json:"samples,omitempty"`
}

// Diagnose counts mirror records per state code and returns up to
// SampleLimit samples for the requested state.
func (s *Service) Diagnose(ctx context.Context, params DiagnosticsParams) (*Diagnostics, error) {
	if params.TenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}
	limit := params.SampleLimit
	if limit <= 0 {
		limit = 5
	}

	docs, err := s.store.List(ctx, params.TenantID, models.CollectionLocationStates)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load mirror collection")
	}

	diag := &Diagnostics{Success: true, Total: len(docs), ByState: make(map[string]int)}
	for _, doc := range docs {
		code := doc.String("stateCode")
		diag.ByState[code]++
		if params.State != "" && code == params.State && len(diag.Samples) < limit {
			record, err := models.Decode[models.LocationStateMirror](doc)
			if err != nil {
				continue
			}
			record.ID = doc.ID()
			diag.Samples = append(diag.Samples, record)
		}
	}
	sort.Slice(diag.Samples, func(i, j int) bool { return diag.Samples[i].ID < diag.Samples[j].ID })
	return diag, nil
}
