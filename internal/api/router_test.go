package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/copyforge/internal/api"
	mw "github.com/kiranshivaraju/copyforge/internal/api/middleware"
	"github.com/kiranshivaraju/copyforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testRawKey = "cf_testkey_0123456789abcdef"

var testTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// --- stub key store with a single non-admin key ---

type stubKeys struct {
	key *models.APIKey
}

func newStubKeys(t *testing.T, scopes ...string) *stubKeys {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return &stubKeys{key: &models.APIKey{
		ID:        uuid.New(),
		TenantID:  testTenantID,
		KeyHash:   string(hash),
		KeyPrefix: testRawKey[:mw.KeyPrefixLen],
		Scopes:    scopes,
	}}
}

func (s *stubKeys) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	if prefix == s.key.KeyPrefix {
		return []*models.APIKey{s.key}, nil
	}
	return nil, nil
}

func (s *stubKeys) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

// --- stub counter ---

type stubCounter struct{}

func (stubCounter) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func newTestRouter(t *testing.T, deps api.Dependencies, scopes ...string) http.Handler {
	t.Helper()
	deps.Auth = mw.NewAuth(newStubKeys(t, scopes...))
	deps.RateLimit = mw.NewRateLimit(stubCounter{}, 60)
	if deps.HealthHandler == nil {
		deps.HealthHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		}
	}
	return api.NewRouter(deps)
}

func authed(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	code, _ := errObj["code"].(string)
	return code
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(t, api.Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t, api.Dependencies{})
	id := uuid.NewString()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/batches"},
		{"GET", "/api/v1/batches/" + id},
		{"POST", "/api/v1/batches/" + id + "/cancel"},
		{"POST", "/api/v1/batches/" + id + "/resume"},
		{"PUT", "/api/v1/batches/" + id + "/items/0"},
		{"POST", "/api/v1/batches/" + id + "/items/0/archive"},
		{"GET", "/api/v1/jobs/" + id},
		{"GET", "/api/v1/records/" + id},
		{"POST", "/api/v1/admin/keys"},
		{"GET", "/api/v1/admin/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))
		})
	}
}

func TestRouter_UnwiredHandler_501(t *testing.T) {
	router := newTestRouter(t, api.Dependencies{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authed("POST", "/api/v1/batches"))

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", errorCode(t, w))
}

func TestRouter_RoutesPathParams(t *testing.T) {
	var gotBatch, gotIndex string
	var gotTenant uuid.UUID
	router := newTestRouter(t, api.Dependencies{
		ReplaceItem: func(w http.ResponseWriter, r *http.Request) {
			gotBatch = chi.URLParam(r, "batchID")
			gotIndex = chi.URLParam(r, "index")
			gotTenant, _ = mw.GetTenantID(r)
			w.WriteHeader(http.StatusOK)
		},
	})

	id := uuid.NewString()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, authed("PUT", "/api/v1/batches/"+id+"/items/3"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, gotBatch)
	assert.Equal(t, "3", gotIndex)
	assert.Equal(t, testTenantID, gotTenant)
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRouter_AdminRequiresScope(t *testing.T) {
	called := false
	deps := api.Dependencies{
		ListKeysHandler: func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		},
	}

	w := httptest.NewRecorder()
	newTestRouter(t, deps).ServeHTTP(w, authed("GET", "/api/v1/admin/keys"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)

	w = httptest.NewRecorder()
	newTestRouter(t, deps, "admin").ServeHTTP(w, authed("GET", "/api/v1/admin/keys"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, api.Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

var _ mw.KeyStore = (*stubKeys)(nil)
var _ mw.Counter = stubCounter{}
