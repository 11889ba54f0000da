// Package dedupe detects and resolves duplicate entities within one
// collection. Entities sharing a normalized identity key form a group; the
// most complete (then oldest) member survives, the rest are deleted.
package dedupe

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/reconcile"
	"lattice/internal/reconcile/batch"
	"lattice/internal/reconcile/metrics"
	"lattice/internal/reconcile/score"
	dErrors "lattice/pkg/domain-errors"
)

// nearTieMargin is the score difference under which two members are treated
// as equally complete and ranked by age instead.
const nearTieMargin = 0.01

// Params configures one resolver run.
type Params struct {
	TenantID   string `json:"tenantId"`
	Collection string `json:"collection"`
	DryRun     bool   `json:"dryRun"`
}

// Member is one entity inside a duplicate group, annotated with its
// completeness score.
type Member struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// Group is a set of entities sharing a normalized identity key. Exactly one
// member is kept. Groups are computed fresh on every run, never persisted.
type Group struct {
	Key    string   `json:"key"`
	Keep   Member   `json:"keep"`
	Remove []Member `json:"remove"`
}

// Result is the run manifest.
type Result struct {
	Success        bool                  `json:"success"`
	DryRun         bool                  `json:"dryRun"`
	Scanned        int                   `json:"scanned"`
	GroupCount     int                   `json:"groupCount"`
	DuplicateCount int                   `json:"duplicateCount"`
	DeletedCount   int                   `json:"deletedCount"`
	Groups         []Group               `json:"groups"`
	Errors         []reconcile.ItemError `json:"errors,omitempty"`
}

// Service runs duplicate detection and resolution.
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

// WithClock sets the clock used for keeper bookkeeping. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates the resolver service.
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

// Run loads the tenant's collection, groups entities by normalized identity
// key, and resolves every group of size > 1. A dry run reports the grouping
// without mutating the store. Re-running after a non-dry run finds no more
// groups, so the operation is safe to repeat.
func (s *Service) Run(ctx context.Context, params Params) (*Result, error) {
	ctx, span := reconcile.Tracer().Start(ctx, "dedupe.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", params.TenantID),
		attribute.String("collection", params.Collection),
		attribute.Bool("dry_run", params.DryRun),
	)
	started := s.clock()

	if params.TenantID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant id is required")
	}
	if len(score.FieldsFor(params.Collection)) == 0 {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "collection %q is not deduplicatable", params.Collection)
	}

	docs, err := s.store.List(ctx, params.TenantID, params.Collection)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load collection")
	}

	result := &Result{Success: true, DryRun: params.DryRun, Scanned: len(docs)}

	groups := s.group(params.Collection, docs)
	writer := batch.NewWriter(s.store,
		batch.WithLimit(s.batchLimit),
		batch.WithCommitObserver(s.metrics.ObserveBatch),
	)

	for _, g := range groups {
		result.GroupCount++
		result.DuplicateCount += len(g.Remove)
		result.Groups = append(result.Groups, g)

		if params.DryRun {
			continue
		}
		if err := s.resolve(ctx, writer, params, g); err != nil {
			// One failed group must not abort the rest of the run.
			result.Errors = append(result.Errors, reconcile.Item(g.Keep.ID, err))
			s.logger.ErrorContext(ctx, "failed to resolve duplicate group",
				"tenant_id", params.TenantID,
				"collection", params.Collection,
				"key", g.Key,
				"error", err.Error(),
			)
			continue
		}
		result.DeletedCount += len(g.Remove)
	}

	if !params.DryRun {
		if err := writer.Flush(ctx); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "flush deletions")
		}
	}

	s.metrics.AddDuplicatesResolved(result.DeletedCount)
	s.metrics.ObserveRun("dedupe", s.clock().Sub(started).Seconds())
	s.logger.InfoContext(ctx, "duplicate resolution run finished",
		"tenant_id", params.TenantID,
		"collection", params.Collection,
		"dry_run", params.DryRun,
		"groups", result.GroupCount,
		"deleted", result.DeletedCount,
		"errors", len(result.Errors),
	)
	return result, nil
}

// group buckets documents by identity key and ranks each bucket. Buckets of
// size 1 are discarded untouched.
func (s *Service) group(collection string, docs []store.Document) []Group {
	buckets := make(map[string][]Member)
	for _, doc := range docs {
		name := identityName(collection, doc)
		key := IdentityKey(name)
		if key == "" {
			continue
		}
		// Missing or corrupt timestamps parse to the zero time, which
		// olderThan ranks newest so broken records never become keepers.
		createdAt, _ := time.Parse(time.RFC3339Nano, doc.String("createdAt"))
		buckets[key] = append(buckets[key], Member{
			ID:        doc.ID(),
			Name:      name,
			Score:     score.Completeness(collection, doc.Data),
			CreatedAt: createdAt,
		})
	}

	keys := make([]string, 0, len(buckets))
	for key, members := range buckets {
		if len(members) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(keys))
	for _, key := range keys {
		members := buckets[key]
		rank(members)
		groups = append(groups, Group{Key: key, Keep: members[0], Remove: members[1:]})
	}
	return groups
}

// rank sorts members best-first. Scores are compared strictly; among the
// members within nearTieMargin of the top score, the earliest-created record
// is promoted to keeper so a marginal score edge never beats age.
func rank(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if olderThan(a, b) {
			return true
		}
		if olderThan(b, a) {
			return false
		}
		return a.ID < b.ID
	})

	keeper := 0
	for i := 1; i < len(members); i++ {
		if members[0].Score-members[i].Score > nearTieMargin {
			break
		}
		if olderThan(members[i], members[keeper]) {
			keeper = i
		}
	}
	if keeper != 0 {
		promoted := members[keeper]
		copy(members[1:keeper+1], members[:keeper])
		members[0] = promoted
	}
}

// olderThan reports whether a was created before b. The zero time means the
// record carried no parseable createdAt and always ranks newest.
func olderThan(a, b Member) bool {
	if a.CreatedAt.IsZero() || b.CreatedAt.IsZero() {
		return !a.CreatedAt.IsZero() && b.CreatedAt.IsZero()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *Service) resolve(ctx context.Context, writer *batch.Writer, params Params, g Group) error {
	for _, member := range g.Remove {
		op := store.WriteOp{
			Kind: store.OpDelete,
			Key:  store.Key{TenantID: params.TenantID, Collection: params.Collection, ID: member.ID},
		}
		if err := writer.Add(ctx, op); err != nil {
			return err
		}
	}
	// Aggregate bookkeeping on the keeper so merges stay visible.
	keeperOp := store.WriteOp{
		Kind: store.OpMerge,
		Key:  store.Key{TenantID: params.TenantID, Collection: params.Collection, ID: g.Keep.ID},
		Data: map[string]any{
			"duplicatesMerged": len(g.Remove),
			"updatedAt":        s.clock().UTC().Format(time.RFC3339Nano),
		},
	}
	return writer.Add(ctx, keeperOp)
}

// identityName picks the name field(s) the identity key is derived from.
func identityName(collection string, doc store.Document) string {
	switch collection {
	case models.CollectionContacts, models.CollectionCandidates:
		if full := doc.String("fullName"); full != "" {
			return full
		}
		first, last := doc.String("firstName"), doc.String("lastName")
		if first != "" && last != "" {
			return first + " " + last
		}
		if first != "" {
			return first
		}
		return last
	default:
		return doc.String("name")
	}
}

// IdentityKey normalizes a name into the key duplicates are grouped by:
// lowercase, punctuation stripped, whitespace collapsed, trimmed.
func IdentityKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Punctuation and symbols are dropped outright.
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
