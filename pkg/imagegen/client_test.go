package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recetario-go/internal/config"
	"recetario-go/pkg/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ImageGenConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "img-model",
		Size:    "512x512",
		Timeout: 5 * time.Second,
	})
}

func TestGenerate(t *testing.T) {
	payload := []byte("\x89PNG fake bytes")
	var got generationRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"b64_json": base64.StdEncoding.EncodeToString(payload)}},
		})
	})

	data, err := client.Generate(context.Background(), "Tacos Vegetarianos")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "b64_json", got.ResponseFormat)
	assert.Equal(t, "512x512", got.Size)
	assert.Contains(t, got.Prompt, "Tacos Vegetarianos")
}

func TestGenerateFailures(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "content policy", http.StatusBadRequest)
		},
		"empty": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[]}`))
		},
		"bad base64": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[{"b64_json":"%%%"}]}`))
		},
	}
	for name, h := range handlers {
		t.Run(name, func(t *testing.T) {
			_, err := newTestClient(t, h).Generate(context.Background(), "x")
			assert.True(t, apperr.Is(err, apperr.KindImageGenerationFailed))
		})
	}
}
