// Package edges materializes implicit foreign-key lists into first-class
// association edge records. Edges are additive: no existence check runs
// before insert, so repeated runs accumulate duplicates. That matches the
// upstream projection's behavior and is flagged as a risk in DESIGN.md
// rather than silently deduplicated.
package edges

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/reconcile"
	"lattice/internal/reconcile/batch"
	"lattice/internal/reconcile/metrics"
	dErrors "lattice/pkg/domain-errors"
)

// Params configures one materializer run.
type Params struct {
	TenantID string `json:"tenantId"`
}

// Result is the run manifest.
type Result struct {
	Success bool                  `json:"success"`
	Scanned int                   `json:"scanned"`
	Created int                   `json:"created"`
	Errors  []reconcile.ItemError `json:"errors,omitempty"`
}

// Service converts implicit id lists into association edges.
type Service struct {
	store      store.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	batchLimit int
	clock      func() time.Time
	newID      func() string
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

// WithIDGenerator sets the edge id generator. Test hook.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New creates the materializer service.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      st,
		logger:     logger,
		batchLimit: batch.DefaultLimit,
		clock:      time.Now,
		newID:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run materializes edges for every deal in the tenant: one edge per assigned
// salesperson id and one per linked contact id.
func (s *Service) Run(ctx context.Context, params Params) (*Result, error) {
	ctx, span := reconcile.Tracer().Start(ctx, "edges.Run")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", params.TenantID))
	started := s.clock()

	if params.TenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}

	deals, err := s.store.List(ctx, params.TenantID, models.CollectionDeals)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load deals")
	}

	result := &Result{Success: true}
	writer := batch.NewWriter(s.store,
		batch.WithLimit(s.batchLimit),
		batch.WithCommitObserver(s.metrics.ObserveBatch),
	)

	for _, dealDoc := range deals {
		result.Scanned++
		deal, err := models.Decode[models.Deal](dealDoc)
		if err != nil {
			result.Errors = append(result.Errors, reconcile.Item(dealDoc.ID(), err))
			continue
		}
		deal.ID = dealDoc.ID()

		created, err := s.materializeDeal(ctx, writer, params.TenantID, deal)
		if err != nil {
			result.Errors = append(result.Errors, reconcile.Item(dealDoc.ID(), err))
			s.logger.ErrorContext(ctx, "failed to materialize deal edges",
				"tenant_id", params.TenantID,
				"deal_id", dealDoc.ID(),
				"error", err.Error(),
			)
			continue
		}
		result.Created += created
	}

	if err := writer.Flush(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "flush edge inserts")
	}

	s.metrics.AddEdgesCreated(result.Created)
	s.metrics.ObserveRun("edges", s.clock().Sub(started).Seconds())
	s.logger.InfoContext(ctx, "edge materialization run finished",
		"tenant_id", params.TenantID,
		"scanned", result.Scanned,
		"created", result.Created,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (s *Service) materializeDeal(ctx context.Context, writer *batch.Writer, tenantID string, deal models.Deal) (int, error) {
	now := s.clock().UTC()
	created := 0

	insert := func(targetType, targetID, assocType, role string) error {
		edge := models.AssociationEdge{
			TenantID:         tenantID,
			SourceEntityType: "deal",
			SourceEntityID:   deal.ID,
			TargetEntityType: targetType,
			TargetEntityID:   targetID,
			AssociationType:  assocType,
			Role:             role,
			Strength:         1,
			Metadata: map[string]any{
				"dealName": deal.Name,
				"stage":    deal.Stage,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := writer.Add(ctx, store.WriteOp{
			Kind: store.OpSet,
			Key:  store.Key{TenantID: tenantID, Collection: models.CollectionAssociations, ID: s.newID()},
			Data: edge.Doc(),
		})
		if err != nil {
			return err
		}
		created++
		return nil
	}

	for _, salespersonID := range deal.SalespersonIDs {
		if salespersonID == "" {
			continue
		}
		if err := insert("salesperson", salespersonID, "assigned_to", "salesperson"); err != nil {
			return created, err
		}
	}
	for _, contactID := range deal.ContactIDs {
		if contactID == "" {
			continue
		}
		if err := insert("contact", contactID, "involves", "contact"); err != nil {
			return created, err
		}
	}
	return created, nil
}
