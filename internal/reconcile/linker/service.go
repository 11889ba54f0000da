// Package linker remaps legacy external identifiers to canonical document
// ids across entity collections: contacts and deals that still point at a
// company or contact by its external id get their canonical foreign keys
// rewritten.
package linker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/reconcile"
	"lattice/internal/reconcile/batch"
	"lattice/internal/reconcile/metrics"
	dErrors "lattice/pkg/domain-errors"
)

// Params configures one linking run.
type Params struct {
	TenantID string `json:"tenantId"`
}

// Summary is the per-tenant run result.
type Summary struct {
	Success        bool                  `json:"success"`
	TenantID       string                `json:"tenantId"`
	CompaniesFound int                   `json:"companiesFound"`
	Linked         int                   `json:"linked"`
	Errors         int                   `json:"errors"`
	ErrorDetails   []reconcile.ItemError `json:"errorDetails,omitempty"`
}

// Aggregate sums summaries across tenants.
type Aggregate struct {
	Success        bool      `json:"success"`
	Tenants        int       `json:"tenants"`
	CompaniesFound int       `json:"companiesFound"`
	Linked         int       `json:"linked"`
	Errors         int       `json:"errors"`
	PerTenant      []Summary `json:"perTenant"`
}

// Service links legacy external ids to canonical ids.
type Service struct {
	store       store.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	batchLimit  int
	parallelism int
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

// WithParallelism bounds concurrent tenant runs in RunAll.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.parallelism = n
		}
	}
}

// New creates the linker service.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       st,
		logger:      logger,
		batchLimit:  batch.DefaultLimit,
		parallelism: 4,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run links one tenant. Unresolvable references are counted, never fatal;
// only an unreadable collection aborts the run.
func (s *Service) Run(ctx context.Context, params Params) (*Summary, error) {
	ctx, span := reconcile.Tracer().Start(ctx, "linker.Run")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", params.TenantID))
	started := time.Now()

	if params.TenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}

	companies, err := s.store.List(ctx, params.TenantID, models.CollectionCompanies)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load companies")
	}
	contacts, err := s.store.List(ctx, params.TenantID, models.CollectionContacts)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load contacts")
	}
	deals, err := s.store.List(ctx, params.TenantID, models.CollectionDeals)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load deals")
	}

	summary := &Summary{Success: true, TenantID: params.TenantID, CompaniesFound: len(companies)}

	companyByExternal := externalIDMap(companies)
	contactByExternal := externalIDMap(contacts)

	writer := batch.NewWriter(s.store,
		batch.WithLimit(s.batchLimit),
		batch.WithCommitObserver(s.metrics.ObserveBatch),
	)

	for _, contact := range contacts {
		if err := s.linkCompanyRef(ctx, writer, companyByExternal, contact, summary); err != nil {
			return nil, err
		}
	}
	for _, deal := range deals {
		if err := s.linkCompanyRef(ctx, writer, companyByExternal, deal, summary); err != nil {
			return nil, err
		}
		if err := s.linkDealContacts(ctx, writer, contactByExternal, deal, summary); err != nil {
			return nil, err
		}
	}

	if err := writer.Flush(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "flush link updates")
	}

	s.metrics.AddLinksRewritten(summary.Linked)
	s.metrics.ObserveRun("linker", time.Since(started).Seconds())
	s.logger.InfoContext(ctx, "link run finished",
		"tenant_id", params.TenantID,
		"companies_found", summary.CompaniesFound,
		"linked", summary.Linked,
		"errors", summary.Errors,
	)
	return summary, nil
}

// RunAll links every given tenant, independent tenants in parallel. A fatal
// failure in one tenant is recorded in its summary and does not stop the
// others.
func (s *Service) RunAll(ctx context.Context, tenantIDs []string) (*Aggregate, error) {
	if len(tenantIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "at least one tenant id is required")
	}

	agg := &Aggregate{Success: true, Tenants: len(tenantIDs), PerTenant: make([]Summary, len(tenantIDs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, tenantID := range tenantIDs {
		g.Go(func() error {
			summary, err := s.Run(gctx, Params{TenantID: tenantID})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				agg.PerTenant[i] = Summary{TenantID: tenantID, Errors: 1,
					ErrorDetails: []reconcile.ItemError{reconcile.Item(tenantID, err)}}
				agg.Errors++
				return nil
			}
			agg.PerTenant[i] = *summary
			agg.CompaniesFound += summary.CompaniesFound
			agg.Linked += summary.Linked
			agg.Errors += summary.Errors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return agg, nil
}

// linkCompanyRef rewrites an entity's companyId when its external company id
// resolves to a different canonical id.
func (s *Service) linkCompanyRef(ctx context.Context, writer *batch.Writer, companyByExternal map[string]string, doc store.Document, summary *Summary) error {
	externalID := doc.String("externalCompanyId")
	if externalID == "" {
		return nil
	}
	canonical, ok := companyByExternal[externalID]
	if !ok {
		summary.Errors++
		summary.ErrorDetails = append(summary.ErrorDetails, reconcile.ItemError{
			ID:    doc.ID(),
			Error: "external company id " + externalID + " does not resolve",
		})
		return nil
	}
	if doc.String("companyId") == canonical {
		return nil
	}
	summary.Linked++
	return writer.Add(ctx, store.WriteOp{
		Kind: store.OpUpdate,
		Key:  doc.Key,
		Data: map[string]any{"companyId": canonical},
	})
}

// linkDealContacts rewrites a deal's legacy contact id list to canonical
// contact ids, dropping entries that fail to resolve.
func (s *Service) linkDealContacts(ctx context.Context, writer *batch.Writer, contactByExternal map[string]string, deal store.Document, summary *Summary) error {
	raw, ok := deal.Data["externalContactIds"].([]any)
	if !ok || len(raw) == 0 {
		return nil
	}

	resolved := make([]any, 0, len(raw))
	dropped := 0
	for _, item := range raw {
		externalID, _ := item.(string)
		if externalID == "" {
			continue
		}
		canonical, ok := contactByExternal[externalID]
		if !ok {
			dropped++
			summary.Errors++
			summary.ErrorDetails = append(summary.ErrorDetails, reconcile.ItemError{
				ID:    deal.ID(),
				Error: "external contact id " + externalID + " does not resolve",
			})
			continue
		}
		resolved = append(resolved, canonical)
	}

	if len(resolved) == 0 && dropped == 0 {
		return nil
	}
	// Already-migrated deals resolve to the list they hold. Rewriting an
	// identical list would queue a write on every run.
	if sameIDList(deal.Data["contactIds"], resolved) {
		return nil
	}
	summary.Linked++
	return writer.Add(ctx, store.WriteOp{
		Kind: store.OpUpdate,
		Key:  deal.Key,
		Data: map[string]any{"contactIds": resolved},
	})
}

// sameIDList compares a stored id list against a freshly resolved one.
func sameIDList(stored any, resolved []any) bool {
	current, ok := stored.([]any)
	if !ok || len(current) != len(resolved) {
		return false
	}
	for i := range current {
		if current[i] != resolved[i] {
			return false
		}
	}
	return true
}

// externalIDMap indexes documents by their externalId field.
func externalIDMap(docs []store.Document) map[string]string {
	m := make(map[string]string, len(docs))
	for _, doc := range docs {
		if externalID := doc.String("externalId"); externalID != "" {
			m[externalID] = doc.ID()
		}
	}
	return m
}
