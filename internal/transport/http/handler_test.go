package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"lattice/internal/entity/models"
	"lattice/internal/entity/store"
	"lattice/internal/platform/middleware"
	"lattice/internal/reconcile/dedupe"
	"lattice/internal/reconcile/edges"
	"lattice/internal/reconcile/linker"
	"lattice/internal/reconcile/mirror"
	"lattice/internal/reconcile/snapshot"
	httptransport "lattice/internal/transport/http"
)

const (
	testSigningKey = "test-signing-key"
	testAdminKey   = "test-admin-key"
)

type HandlerSuite struct {
	suite.Suite
	store  *store.MemoryStore
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	logger := slog.New(slog.DiscardHandler)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	s.Require().NoError(err)

	handler := httptransport.NewHandler(
		logger,
		mirror.New(s.store, logger),
		linker.New(s.store, logger),
		dedupe.New(s.store, logger),
		snapshot.New(s.store, logger),
		edges.New(s.store, logger),
	)
	auth := middleware.NewOperatorAuth(testSigningKey, string(hash), logger)
	s.router = httptransport.NewRouter(handler, auth, nil, logger)
}

func (s *HandlerSuite) token(key string) string {
	claims := jwt.MapClaims{
		"sub": "operator",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	s.Require().NoError(err)
	return signed
}

func (s *HandlerSuite) request(method, path string, body any, authorize func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authorize != nil {
		authorize(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) bearer(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.token(testSigningKey))
}

func (s *HandlerSuite) seed(collection, id string, data map[string]any) {
	s.Require().NoError(s.store.BatchWrite(context.Background(), []store.WriteOp{{
		Kind: store.OpSet,
		Key:  store.Key{TenantID: "t1", Collection: collection, ID: id},
		Data: data,
	}}))
}

func (s *HandlerSuite) TestHealthIsOpen() {
	rec := s.request(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestOperatorSurfaceRequiresCredentials() {
	rec := s.request(http.MethodPost, "/admin/reconcile/edges", edges.Params{TenantID: "t1"}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestRejectsForgedToken() {
	rec := s.request(http.MethodPost, "/admin/reconcile/edges", edges.Params{TenantID: "t1"},
		func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+s.token("wrong-key"))
		})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestAdminKeyIsAccepted() {
	rec := s.request(http.MethodPost, "/admin/reconcile/edges", edges.Params{TenantID: "t1"},
		func(req *http.Request) {
			req.Header.Set("X-Admin-Key", testAdminKey)
		})
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestWrongAdminKeyIsRejected() {
	rec := s.request(http.MethodPost, "/admin/reconcile/edges", edges.Params{TenantID: "t1"},
		func(req *http.Request) {
			req.Header.Set("X-Admin-Key", "guess")
		})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestMirrorRebuild() {
	s.seed(models.CollectionCompanies, "co1", map[string]any{"name": "Acme"})
	s.seed(models.CollectionLocations, "loc1", map[string]any{
		"companyId": "co1", "state": "IL",
	})

	rec := s.request(http.MethodPost, "/admin/reconcile/mirror/rebuild",
		mirror.RebuildParams{TenantID: "t1"}, s.bearer)
	s.Require().Equal(http.StatusOK, rec.Code)

	var result mirror.RebuildResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.True(result.Success)
	s.Equal(1, result.Written)
}

func (s *HandlerSuite) TestMirrorDiagnosticsReadsQueryParams() {
	s.seed(models.CollectionLocationStates, "co1_loc1", map[string]any{
		"companyId": "co1", "stateCode": "IL", "stateName": "Illinois",
	})

	rec := s.request(http.MethodGet, "/admin/reconcile/mirror/diagnostics?tenantId=t1&state=IL", nil, s.bearer)
	s.Require().Equal(http.StatusOK, rec.Code)

	var diag mirror.Diagnostics
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &diag))
	s.Equal(1, diag.Total)
	s.Equal(1, diag.ByState["IL"])
	s.Len(diag.Samples, 1)
}

func (s *HandlerSuite) TestLinkAcceptsSingleTenant() {
	s.seed(models.CollectionCompanies, "C1", map[string]any{"externalId": "E1"})
	s.seed(models.CollectionContacts, "p1", map[string]any{
		"companyId": "stale", "externalCompanyId": "E1",
	})

	rec := s.request(http.MethodPost, "/admin/reconcile/link",
		map[string]any{"tenantId": "t1"}, s.bearer)
	s.Require().Equal(http.StatusOK, rec.Code)

	var agg linker.Aggregate
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &agg))
	s.Equal(1, agg.Tenants)
	s.Equal(1, agg.Linked)
}

func (s *HandlerSuite) TestLinkWithoutTenantsIsBadRequest() {
	rec := s.request(http.MethodPost, "/admin/reconcile/link", map[string]any{}, s.bearer)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestDuplicatesRun() {
	s.seed(models.CollectionCompanies, "a", map[string]any{
		"name": "Acme", "createdAt": "2024-01-01T00:00:00Z",
	})
	s.seed(models.CollectionCompanies, "b", map[string]any{
		"name": "ACME", "createdAt": "2025-01-01T00:00:00Z",
	})

	rec := s.request(http.MethodPost, "/admin/reconcile/duplicates",
		dedupe.Params{TenantID: "t1", Collection: models.CollectionCompanies}, s.bearer)
	s.Require().Equal(http.StatusOK, rec.Code)

	var result dedupe.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.Equal(1, result.GroupCount)
	s.Equal(1, result.DeletedCount)
}

func (s *HandlerSuite) TestDuplicatesRejectsUnknownCollection() {
	rec := s.request(http.MethodPost, "/admin/reconcile/duplicates",
		dedupe.Params{TenantID: "t1", Collection: "widgets"}, s.bearer)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestSnapshotsRun() {
	s.seed(models.CollectionCompanies, "c1", map[string]any{"name": "Acme"})
	s.seed(models.CollectionDeals, "d1", map[string]any{
		"associations": map[string]any{
			"companies": []any{map[string]any{"id": "c1"}},
		},
	})

	rec := s.request(http.MethodPost, "/admin/reconcile/snapshots",
		snapshot.Params{TenantID: "t1"}, s.bearer)
	s.Require().Equal(http.StatusOK, rec.Code)

	var result snapshot.Result
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	s.Equal(1, result.Synced)
}

func (s *HandlerSuite) TestTargetedSnapshotMissingEntityIsNotFound() {
	rec := s.request(http.MethodPost, "/admin/reconcile/snapshots",
		snapshot.Params{TenantID: "t1", EntityID: "ghost"}, s.bearer)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestInvalidBodyIsBadRequest() {
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile/edges",
		bytes.NewBufferString("{not json"))
	s.bearer(req)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}
