package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/copyforge/internal/api/middleware"
	"github.com/stretchr/testify/require"
)

// withTenant stands in for the auth middleware.
func withTenant(id uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(mw.SetTenantID(r.Context(), id)))
		})
	}
}

func serve(t *testing.T, tenantID uuid.UUID, method, pattern, path string, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	if tenantID != uuid.Nil {
		r.Use(withTenant(tenantID))
	}
	r.Method(method, pattern, h)

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	body := decode(t, rec)
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data object, got %v", body)
	return d
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", body)
	code, _ := e["code"].(string)
	return code
}
