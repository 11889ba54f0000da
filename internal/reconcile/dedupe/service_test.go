package dedupe_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/entity/store/mocks"
	"lattice/internal/reconcile/dedupe"
	dErrors "lattice/pkg/domain-errors"
)

type DedupeSuite struct {
	suite.Suite
	store   *store.MemoryStore
	service *dedupe.Service
	ctx     context.Context
}

func TestDedupeSuite(t *testing.T) {
	suite.Run(t, new(DedupeSuite))
}

func (s *DedupeSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	logger := slog.New(slog.DiscardHandler)
	s.service = dedupe.New(s.store, logger,
		dedupe.WithClock(func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	s.ctx = context.Background()
}

func (s *DedupeSuite) seedCompany(id string, data map[string]any) {
	s.Require().NoError(s.store.BatchWrite(s.ctx, []store.WriteOp{{
		Kind: store.OpSet,
		Key:  store.Key{TenantID: "t1", Collection: models.CollectionCompanies, ID: id},
		Data: data,
	}}))
}

func (s *DedupeSuite) TestMoreCompleteRecordWins() {
	s.seedCompany("sparse", map[string]any{
		"name":      "Acme, Inc.",
		"createdAt": "2024-01-01T00:00:00Z",
	})
	s.seedCompany("rich", map[string]any{
		"name":      "ACME Inc",
		"phone":     "555-0100",
		"website":   "https://acme.example.com",
		"address":   "1 Main St",
		"city":      "Chicago",
		"state":     "IL",
		"zip":       "60601",
		"createdAt": "2025-06-01T00:00:00Z",
	})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
	})
	s.Require().NoError(err)

	s.True(result.Success)
	s.Equal(2, result.Scanned)
	s.Equal(1, result.GroupCount)
	s.Equal(1, result.DeletedCount)
	s.Require().Len(result.Groups, 1)
	s.Equal("acme inc", result.Groups[0].Key)
	s.Equal("rich", result.Groups[0].Keep.ID)

	_, err = s.store.Get(s.ctx, store.Key{TenantID: "t1", Collection: models.CollectionCompanies, ID: "sparse"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	keeper, err := s.store.Get(s.ctx, store.Key{TenantID: "t1", Collection: models.CollectionCompanies, ID: "rich"})
	s.Require().NoError(err)
	s.Equal(1, keeper.Data["duplicatesMerged"])
}

func (s *DedupeSuite) TestEqualScoresKeepOldest() {
	s.seedCompany("newer", map[string]any{
		"name":      "Globex",
		"phone":     "555-0101",
		"createdAt": "2025-01-01T00:00:00Z",
	})
	s.seedCompany("older", map[string]any{
		"name":      "globex!",
		"phone":     "555-0102",
		"createdAt": "2023-01-01T00:00:00Z",
	})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
	})
	s.Require().NoError(err)

	s.Require().Len(result.Groups, 1)
	s.Equal("older", result.Groups[0].Keep.ID)
	s.Require().Len(result.Groups[0].Remove, 1)
	s.Equal("newer", result.Groups[0].Remove[0].ID)
}

func (s *DedupeSuite) TestMalformedCreatedAtNeverWinsTie() {
	// An unparseable timestamp must rank newest, not collapse to the zero
	// time and beat every dated record as "oldest".
	s.seedCompany("corrupt", map[string]any{
		"name":      "Globex",
		"phone":     "555-0101",
		"createdAt": "not-a-date",
	})
	s.seedCompany("dated", map[string]any{
		"name":      "globex!",
		"phone":     "555-0102",
		"createdAt": "2025-01-01T00:00:00Z",
	})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
	})
	s.Require().NoError(err)

	s.Require().Len(result.Groups, 1)
	s.Equal("dated", result.Groups[0].Keep.ID)
	s.Require().Len(result.Groups[0].Remove, 1)
	s.Equal("corrupt", result.Groups[0].Remove[0].ID)
}

func (s *DedupeSuite) TestScoreGapBeatsAge() {
	// A whole field of difference (0.1 on a 10-field list) is outside the
	// near-tie margin, so completeness wins over age.
	s.seedCompany("slightly-richer", map[string]any{
		"name":      "Initech",
		"phone":     "555-0103",
		"city":      "Austin",
		"createdAt": "2025-01-01T00:00:00Z",
	})
	s.seedCompany("older-sparser", map[string]any{
		"name":      "Initech",
		"phone":     "555-0104",
		"createdAt": "2020-01-01T00:00:00Z",
	})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
	})
	s.Require().NoError(err)

	// 0.3 vs 0.2 exceeds the margin, so completeness decides.
	s.Require().Len(result.Groups, 1)
	s.Equal("slightly-richer", result.Groups[0].Keep.ID)
}

func (s *DedupeSuite) TestDryRunReportsWithoutDeleting() {
	s.seedCompany("a", map[string]any{"name": "Hooli", "createdAt": "2024-01-01T00:00:00Z"})
	s.seedCompany("b", map[string]any{"name": "HOOLI", "createdAt": "2024-02-01T00:00:00Z"})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
		DryRun:     true,
	})
	s.Require().NoError(err)

	s.True(result.DryRun)
	s.Equal(1, result.GroupCount)
	s.Equal(1, result.DuplicateCount)
	s.Equal(0, result.DeletedCount)
	s.Equal(2, s.store.Count("t1", models.CollectionCompanies))
}

func (s *DedupeSuite) TestRerunFindsNothing() {
	s.seedCompany("a", map[string]any{"name": "Vandelay", "createdAt": "2024-01-01T00:00:00Z"})
	s.seedCompany("b", map[string]any{"name": "Vandelay", "createdAt": "2024-02-01T00:00:00Z"})

	_, err := s.service.Run(s.ctx, dedupe.Params{TenantID: "t1", Collection: models.CollectionCompanies})
	s.Require().NoError(err)

	second, err := s.service.Run(s.ctx, dedupe.Params{TenantID: "t1", Collection: models.CollectionCompanies})
	s.Require().NoError(err)
	s.Equal(0, second.GroupCount)
	s.Equal(1, second.Scanned)
}

func (s *DedupeSuite) TestContactsGroupOnComposedName() {
	seed := func(id string, data map[string]any) {
		s.Require().NoError(s.store.BatchWrite(s.ctx, []store.WriteOp{{
			Kind: store.OpSet,
			Key:  store.Key{TenantID: "t1", Collection: models.CollectionContacts, ID: id},
			Data: data,
		}}))
	}
	seed("full", map[string]any{
		"fullName":  "Pat O'Brien",
		"email":     "pat@example.com",
		"createdAt": "2024-01-01T00:00:00Z",
	})
	seed("split", map[string]any{
		"firstName": "Pat",
		"lastName":  "OBrien",
		"createdAt": "2024-06-01T00:00:00Z",
	})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionContacts,
	})
	s.Require().NoError(err)

	s.Require().Len(result.Groups, 1)
	s.Equal("pat obrien", result.Groups[0].Key)
	s.Equal("full", result.Groups[0].Keep.ID)
}

func (s *DedupeSuite) TestNamelessRecordsAreIgnored() {
	s.seedCompany("blank", map[string]any{"phone": "555-0100"})
	s.seedCompany("punct", map[string]any{"name": "!!!"})

	result, err := s.service.Run(s.ctx, dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
	})
	s.Require().NoError(err)
	s.Equal(0, result.GroupCount)
	s.Equal(2, s.store.Count("t1", models.CollectionCompanies))
}

func (s *DedupeSuite) TestRejectsUnscorableCollection() {
	_, err := s.service.Run(s.ctx, dedupe.Params{TenantID: "t1", Collection: models.CollectionLocations})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestFailedGroupIsCapturedNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockStore(ctrl)

	docs := []store.Document{
		{
			Key:  store.Key{TenantID: "t1", Collection: models.CollectionCompanies, ID: "a"},
			Data: map[string]any{"name": "Acme", "phone": "555-0100", "createdAt": "2024-01-01T00:00:00Z"},
		},
		{
			Key:  store.Key{TenantID: "t1", Collection: models.CollectionCompanies, ID: "b"},
			Data: map[string]any{"name": "Acme", "createdAt": "2025-01-01T00:00:00Z"},
		},
	}
	mockStore.EXPECT().
		List(gomock.Any(), "t1", models.CollectionCompanies).
		Return(docs, nil)
	// The first commit fails; the retry on flush succeeds.
	mockStore.EXPECT().
		BatchWrite(gomock.Any(), gomock.Any()).
		Return(dErrors.New(dErrors.CodeUnavailable, "store down")).
		Times(1)
	mockStore.EXPECT().
		BatchWrite(gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()

	service := dedupe.New(mockStore, slog.New(slog.DiscardHandler), dedupe.WithBatchLimit(1))
	result, err := service.Run(context.Background(), dedupe.Params{
		TenantID:   "t1",
		Collection: models.CollectionCompanies,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.GroupCount)
	assert.Equal(t, 0, result.DeletedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "a", result.Errors[0].ID)
}

func TestIdentityKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme, Inc.", "acme inc"},
		{"  ACME   INC  ", "acme inc"},
		{"O'Brien & Sons", "obrien sons"},
		{"Data-Systems 2000", "datasystems 2000"},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dedupe.IdentityKey(tt.in), "input %q", tt.in)
	}
}
