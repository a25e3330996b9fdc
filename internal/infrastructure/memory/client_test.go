package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
)

func TestFeed(t *testing.T) {
	var got feedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/consumers/agent%20one/memories", r.URL.EscapedPath())
		assert.Equal(t, "agent one:h1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"accepted":true,"memory_id":"m-1"}`))
	}))
	defer srv.Close()

	c := NewClient(config.MemoryConfig{Endpoint: srv.URL + "/", APIKey: "k"})
	receipt, err := c.Feed(context.Background(), "agent one", domain.ContentItem{
		ID: "c1", ContentHash: "h1", URL: "https://a.example/x", CanonicalURL: "https://a.example/canon", Text: "body",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MemoryReceipt{Accepted: true, MemoryID: "m-1"}, receipt)
	assert.Equal(t, "https://a.example/canon", got.URL)
	assert.Equal(t, "c1", got.ContentID)
}

func TestFeedRejectionAndErrors(t *testing.T) {
	status := http.StatusUnprocessableEntity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(config.MemoryConfig{Endpoint: srv.URL})
	receipt, err := c.Feed(context.Background(), "agent", domain.ContentItem{ID: "c1"})
	require.NoError(t, err)
	assert.False(t, receipt.Accepted)

	status = http.StatusServiceUnavailable
	_, err = c.Feed(context.Background(), "agent", domain.ContentItem{ID: "c1"})
	assert.Error(t, err)

	_, err = NewClient(config.MemoryConfig{}).Feed(context.Background(), "agent", domain.ContentItem{})
	assert.Error(t, err)
}
