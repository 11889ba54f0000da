package snapshot_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/reconcile/snapshot"
	dErrors "lattice/pkg/domain-errors"
)

type SnapshotSuite struct {
	suite.Suite
	store   *store.MemoryStore
	service *snapshot.Service
	ctx     context.Context
}

func TestSnapshotSuite(t *testing.T) {
	suite.Run(t, new(SnapshotSuite))
}

func (s *SnapshotSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	logger := slog.New(slog.DiscardHandler)
	s.service = snapshot.New(s.store, logger,
		snapshot.WithClock(func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	s.ctx = context.Background()
}

func (s *SnapshotSuite) seed(collection, id string, data map[string]any) {
	s.Require().NoError(s.store.BatchWrite(s.ctx, []store.WriteOp{{
		Kind: store.OpSet,
		Key:  store.Key{TenantID: "t1", Collection: collection, ID: id},
		Data: data,
	}}))
}

func (s *SnapshotSuite) deal(id string, assocs map[string]any) {
	s.seed(models.CollectionDeals, id, map[string]any{
		"name":         "Deal " + id,
		"stage":        "open",
		"associations": assocs,
	})
}

func (s *SnapshotSuite) getDeal(id string) store.Document {
	doc, err := s.store.Get(s.ctx, store.Key{TenantID: "t1", Collection: models.CollectionDeals, ID: id})
	s.Require().NoError(err)
	return doc
}

func refsOf(doc store.Document, kind string) []map[string]any {
	assocs := doc.Data["associations"].(map[string]any)
	raw := assocs[kind].([]any)
	out := make([]map[string]any, len(raw))
	for i, r := range raw {
		out[i] = r.(map[string]any)
	}
	return out
}

func (s *SnapshotSuite) TestFillsStaleCompanyReference() {
	s.seed(models.CollectionCompanies, "c1", map[string]any{
		"name":    "Acme",
		"phone":   "555-0100",
		"website": "https://acme.example.com",
		"city":    "Chicago",
	})
	s.deal("d1", map[string]any{
		"companies": []any{map[string]any{"id": "c1"}},
	})

	result, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)

	s.True(result.Success)
	s.Equal(1, result.Scanned)
	s.Equal(1, result.Synced)
	s.Equal(1, result.Updated)

	refs := refsOf(s.getDeal("d1"), models.RefKindCompanies)
	s.Require().Len(refs, 1)
	snap := refs[0]["snapshot"].(map[string]any)
	s.Equal("Acme", snap["name"])
	s.Equal("555-0100", snap["phone"])
	s.Equal("Chicago", snap["city"])
	// Absent canonical fields must not appear as nulls.
	_, hasState := snap["state"]
	s.False(hasState)
}

func (s *SnapshotSuite) TestCompleteSnapshotIsNeverTouched() {
	s.seed(models.CollectionCompanies, "c1", map[string]any{"name": "Canonical Name"})
	s.deal("d1", map[string]any{
		"companies": []any{map[string]any{
			"id":       "c1",
			"snapshot": map[string]any{"name": "Hand Edited"},
		}},
	})

	result, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)

	s.Equal(0, result.Synced)
	s.Equal(0, result.Updated)
	refs := refsOf(s.getDeal("d1"), models.RefKindCompanies)
	snap := refs[0]["snapshot"].(map[string]any)
	s.Equal("Hand Edited", snap["name"])
}

func (s *SnapshotSuite) TestMergeDoesNotClobberExistingFields() {
	s.seed(models.CollectionContacts, "p1", map[string]any{
		"fullName": "Pat Q",
		"email":    "pat@example.com",
		"phone":    "555-0101",
	})
	// Snapshot has a phone but no name, so it is stale and gets refilled.
	s.deal("d1", map[string]any{
		"contacts": []any{map[string]any{
			"id":       "p1",
			"snapshot": map[string]any{"phone": "555-9999"},
		}},
	})

	result, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)

	s.Equal(1, result.Synced)
	refs := refsOf(s.getDeal("d1"), models.RefKindContacts)
	snap := refs[0]["snapshot"].(map[string]any)
	s.Equal("Pat Q", snap["name"])
	s.Equal("pat@example.com", snap["email"])
	s.Equal("555-9999", snap["phone"])
}

func (s *SnapshotSuite) TestDanglingReferenceIsSkippedSilently() {
	s.deal("d1", map[string]any{
		"companies": []any{map[string]any{"id": "ghost"}},
	})

	result, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)

	s.True(result.Success)
	s.Equal(0, result.Synced)
	s.Empty(result.Errors)
	refs := refsOf(s.getDeal("d1"), models.RefKindCompanies)
	_, hasSnap := refs[0]["snapshot"]
	s.False(hasSnap)
}

func (s *SnapshotSuite) TestSecondRunPerformsNoWrites() {
	s.seed(models.CollectionCompanies, "c1", map[string]any{"name": "Acme"})
	s.deal("d1", map[string]any{
		"companies": []any{map[string]any{"id": "c1"}},
	})

	first, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)
	s.Equal(1, first.Updated)

	second, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)
	s.Equal(1, second.Scanned)
	s.Equal(0, second.Synced)
	s.Equal(0, second.Updated)
}

func (s *SnapshotSuite) TestNamelessCanonicalDoesNotChurn() {
	// A canonical entity with no name can never complete the ref's core
	// snapshot. The first run copies what it can; reruns must settle.
	s.seed(models.CollectionCompanies, "c1", map[string]any{"phone": "555-0100"})
	s.deal("d1", map[string]any{
		"companies": []any{map[string]any{"id": "c1"}},
	})

	first, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)
	s.Equal(1, first.Synced)
	s.Equal(1, first.Updated)

	refs := refsOf(s.getDeal("d1"), models.RefKindCompanies)
	s.Require().Len(refs, 1)
	snap := refs[0]["snapshot"].(map[string]any)
	s.Equal("555-0100", snap["phone"])

	second, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)
	s.Equal(0, second.Synced)
	s.Equal(0, second.Updated)
}

func (s *SnapshotSuite) TestUnmodeledReferenceFieldsSurvive() {
	s.seed(models.CollectionCompanies, "c1", map[string]any{"name": "Acme"})
	s.deal("d1", map[string]any{
		"companies": []any{map[string]any{
			"id":     "c1",
			"pinned": true,
			"note":   "quarterly review",
		}},
	})

	_, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)

	refs := refsOf(s.getDeal("d1"), models.RefKindCompanies)
	s.Equal(true, refs[0]["pinned"])
	s.Equal("quarterly review", refs[0]["note"])
	snap := refs[0]["snapshot"].(map[string]any)
	s.Equal("Acme", snap["name"])
}

func (s *SnapshotSuite) TestTargetedRunMissingEntity() {
	_, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1", EntityID: "ghost"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SnapshotSuite) TestTargetedRunTouchesOnlyThatEntity() {
	s.seed(models.CollectionCompanies, "c1", map[string]any{"name": "Acme"})
	s.deal("d1", map[string]any{"companies": []any{map[string]any{"id": "c1"}}})
	s.deal("d2", map[string]any{"companies": []any{map[string]any{"id": "c1"}}})

	result, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1", EntityID: "d1"})
	s.Require().NoError(err)

	s.Equal(1, result.Scanned)
	s.Equal(1, result.Updated)
	refs := refsOf(s.getDeal("d2"), models.RefKindCompanies)
	_, hasSnap := refs[0]["snapshot"]
	s.False(hasSnap)
}

func (s *SnapshotSuite) TestContactNameComposedFromParts() {
	s.seed(models.CollectionContacts, "p1", map[string]any{
		"firstName": "Sam",
		"lastName":  "Lee",
	})
	s.deal("d1", map[string]any{
		"contacts": []any{map[string]any{"id": "p1"}},
	})

	_, err := s.service.Run(s.ctx, snapshot.Params{TenantID: "t1"})
	s.Require().NoError(err)

	refs := refsOf(s.getDeal("d1"), models.RefKindContacts)
	snap := refs[0]["snapshot"].(map[string]any)
	s.Equal("Sam Lee", snap["name"])
}
