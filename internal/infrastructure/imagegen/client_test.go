package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DiscoveryFeed/internal/domain"
)

func TestGenerateDecodesFirstImage(t *testing.T) {
	var got txt2imgRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sdapi/v1/txt2img", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []string{base64.StdEncoding.EncodeToString([]byte("png-bytes")), "ignored"},
			"info":   "{}",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", srv.Client())
	data, err := c.Generate(context.Background(), domain.ImagePrompt{
		Positive: "grid batteries at dusk, editorial photograph",
		Negative: "blurry, watermark",
		Width:    1024,
		Height:   1280,
		Steps:    36,
		CFGScale: 7.2,
		Seed:     42,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	assert.Equal(t, "grid batteries at dusk, editorial photograph", got.Prompt)
	assert.Equal(t, "blurry, watermark", got.NegativePrompt)
	assert.Equal(t, 1024, got.Width)
	assert.Equal(t, 1280, got.Height)
	assert.Equal(t, 36, got.Steps)
	assert.InDelta(t, 7.2, got.CFGScale, 1e-9)
	assert.Equal(t, int64(42), got.Seed)
}

func TestGenerateAcceptsDataURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("img"))
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{uri}})
	}))
	defer srv.Close()

	data, err := NewClient(srv.URL, srv.Client()).Generate(context.Background(), domain.ImagePrompt{Positive: "x"})
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)
}

func TestGenerateErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "cuda out of memory", http.StatusInternalServerError)
		}},
		{"no images", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"images":[]}`))
		}},
		{"bad base64", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"images":["***"]}`))
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, srv.Client()).Generate(context.Background(), domain.ImagePrompt{Positive: "x"})
			assert.Error(t, err)
		})
	}
}

func TestGenerateRequiresEndpointAndPrompt(t *testing.T) {
	_, err := NewClient("", nil).Generate(context.Background(), domain.ImagePrompt{Positive: "x"})
	assert.Error(t, err)

	_, err = NewClient("http://gen.test", nil).Generate(context.Background(), domain.ImagePrompt{})
	assert.Error(t, err)
}
