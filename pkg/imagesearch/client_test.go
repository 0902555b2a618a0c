package imagesearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recetario-go/internal/config"
	"recetario-go/pkg/apperr"
)

func newClient(baseURL string) *Client {
	return NewClient(config.ImageSearchConfig{BaseURL: baseURL, Width: 400, Height: 300, Timeout: 5 * time.Second})
}

func TestSearchURL(t *testing.T) {
	c := newClient("https://loremflickr.com/")
	assert.Equal(t, "https://loremflickr.com/400/300/tacos,vegetarianos", c.SearchURL("Tacos  Vegetarianos"))
	assert.Equal(t, "https://loremflickr.com/400/300/cr%C3%A8me,br%C3%BBl%C3%A9e", c.SearchURL("Crème Brûlée"))
}

func TestFindFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/400/300/pasta", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cache/pasta.jpg", http.StatusFound)
	})
	mux.HandleFunc("/cache/pasta.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	data, err := newClient(srv.URL).Find(context.Background(), "Pasta")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestFindFailures(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"not found": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
		"html": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		},
		"empty": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
		},
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := newClient(srv.URL).Find(context.Background(), "sopa")
			assert.True(t, apperr.Is(err, apperr.KindImageGenerationFailed))
		})
	}

	_, err := newClient("http://127.0.0.1:1").Find(context.Background(), "  ")
	assert.Error(t, err)
}
