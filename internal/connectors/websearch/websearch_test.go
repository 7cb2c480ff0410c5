package websearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fentz26/circadia/internal/connectors"
	"github.com/fentz26/circadia/internal/models"
	"github.com/fentz26/circadia/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "sleep spindles", r.URL.Query().Get("q"))
		assert.Equal(t, "deep", r.URL.Query().Get("depth"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Spindles","url":"https://example.org/s","snippet":"bursts of activity"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret", srv.Client())
	results, err := c.Search(context.Background(), connectors.SearchRequest{Query: "sleep spindles", Depth: models.DepthDeep})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Spindles", results[0].Title)
	assert.Equal(t, "https://example.org/s", results[0].URL)
}

func TestSearch_StatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", srv.Client()).Search(context.Background(), connectors.SearchRequest{Query: "x"})

			var se *retry.StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, "nope", se.Body)
			assert.Equal(t, tt.transient, retry.IsTransient(err))
		})
	}
}

func TestSearch_MalformedBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", srv.Client()).Search(context.Background(), connectors.SearchRequest{Query: "x"})
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestSearch_EmptyQuery(t *testing.T) {
	_, err := New("http://unused", "", nil).Search(context.Background(), connectors.SearchRequest{Query: "  "})
	assert.Error(t, err)
}
