package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/copyforge/internal/ai/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	Text string `json:"text"`
}

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))

		var in echo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(echo{Text: "got " + in.Text})
	}))
	defer srv.Close()

	var out echo
	err := transport.PostJSON(context.Background(), srv.Client(), "test", srv.URL, map[string]string{"X-Key": "secret"}, echo{Text: "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "got hi", out.Text)
}

func TestPostJSON_StatusClasses(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, transport.ErrRateLimited},
		{http.StatusBadGateway, transport.ErrProviderUnavailable},
		{http.StatusServiceUnavailable, transport.ErrProviderUnavailable},
		{http.StatusBadRequest, transport.ErrInvalidRequest},
		{http.StatusUnauthorized, transport.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			var out echo
			err := transport.PostJSON(context.Background(), srv.Client(), "test", srv.URL, nil, echo{}, &out)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var se *transport.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestPostJSON_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	var out echo
	err := transport.PostJSON(context.Background(), srv.Client(), "test", srv.URL, nil, echo{}, &out)
	assert.ErrorIs(t, err, transport.ErrInvalidResponse)
}

func TestPostJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out echo
	err := transport.PostJSON(ctx, srv.Client(), "test", srv.URL, nil, echo{}, &out)
	assert.ErrorIs(t, err, transport.ErrInferenceTimeout)
}

func TestPostJSON_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var out echo
	err := transport.PostJSON(context.Background(), http.DefaultClient, "test", url, nil, echo{}, &out)
	assert.ErrorIs(t, err, transport.ErrProviderUnavailable)
}

func TestPostJSON_EmptyEndpoint(t *testing.T) {
	var out echo
	err := transport.PostJSON(context.Background(), http.DefaultClient, "test", " ", nil, echo{}, &out)
	assert.ErrorIs(t, err, transport.ErrInvalidRequest)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://h:1/api/generate", transport.JoinURL("http://h:1/", "/api/generate"))
	assert.Equal(t, "http://h:1/v1/messages", transport.JoinURL("http://h:1", "v1/messages"))
}
