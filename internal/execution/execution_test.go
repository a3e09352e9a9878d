package execution

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelSuccess(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	require.NoError(t, c.Cancel(context.Background(), "ord-123"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/orders/ord-123", gotPath)
}

func TestCancelTreatsNotFoundAsDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	assert.NoError(t, c.Cancel(context.Background(), "ord-gone"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, BreakerMaxFails: 3, BreakerOpenMs: 60_000})

	for i := 0; i < 3; i++ {
		err := c.Cancel(context.Background(), "ord-x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	}
	assert.Equal(t, 3, hits)

	// Breaker is open: the venue is not touched again.
	err := c.Cancel(context.Background(), "ord-x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 3, hits)
}
