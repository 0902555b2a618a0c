package llm

import (
	"context"
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

const failureText = "Lo siento, tuve problemas para crear una receta."

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
		Prompt:  config.LLMPromptConfig{Persona: "Eres un chef.", FailureText: failureText},
	})
}

func replyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}
}

func TestSuggest(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		replyWith(`{"title":"Tacos Vegetarianos","ingredients":["2 tortillas","1 taza frijoles"],"steps":["Calentar tortillas","Rellenar con frijoles"]}`)(w, r)
	})

	suggestion, err := client.Suggest(context.Background(), "vegetarian tacos")
	require.NoError(t, err)
	assert.Equal(t, "Tacos Vegetarianos", suggestion.Title)
	assert.Equal(t, []string{"2 tortillas", "1 taza frijoles"}, suggestion.Ingredients)
	assert.Equal(t, []string{"Calentar tortillas", "Rellenar con frijoles"}, suggestion.Steps)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Eres un chef.")
	assert.Equal(t, "vegetarian tacos", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.False(t, got.Stream)
}

func TestSuggestMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":           "lo siento, no puedo",
		"missing title":      `{"ingredients":["a"],"steps":["b"]}`,
		"ingredients string": `{"title":"x","ingredients":"a, b","steps":["b"]}`,
		"missing steps":      `{"title":"x","ingredients":["a"]}`,
		"blank title":        `{"title":"  ","ingredients":[],"steps":[]}`,
		"truncated json":     `{"title":"x","ingredients":["a"`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, replyWith(content))
			_, err := client.Suggest(context.Background(), "algo")
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindSuggestionFailed))
			assert.Equal(t, failureText, apperr.Message(err))
		})
	}
}

func TestSuggestHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})
	_, err := client.Suggest(context.Background(), "algo")
	assert.True(t, apperr.Is(err, apperr.KindSuggestionFailed))
}

func TestParseSuggestionExtractsFencedJSON(t *testing.T) {
	content := "```json\n{\"title\":\"Sopa\",\"ingredients\":[\"agua\", \"  \", \"sal\\ny pimienta\"],\"steps\":[]}\n```"
	suggestion, err := ParseSuggestion(content)
	require.NoError(t, err)
	assert.Equal(t, "Sopa", suggestion.Title)
	assert.Equal(t, []string{"agua", "sal y pimienta"}, suggestion.Ingredients)
	assert.Empty(t, suggestion.Steps)
}
