package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/playmind/guessball/internal/config"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Graph.URI = ""  // in-memory store
	cfg.LLM.APIKey = "" // generative stages disabled

	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)
	return srv.SetupRouter()
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "memory", resp["store"])
	assert.Equal(t, false, resp["llm"])
}

func TestGameReturnsAMoveOnEmptyHistory(t *testing.T) {
	r := newTestServer(t)

	w := postJSON(t, r, "/api/game", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)

	var resp gameResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "question", resp.Type)
	assert.NotEmpty(t, resp.Content)
	assert.NotEmpty(t, resp.SessionID)
}

func TestGameRejectsMalformedBody(t *testing.T) {
	r := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/game", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGameCarriesSessionID(t *testing.T) {
	r := newTestServer(t)
	const id = "b3e9c7a4-1f2d-4e5b-8a6c-9d0e1f2a3b4c"

	w := postJSON(t, r, "/api/game", map[string]any{"sessionId": id})
	require.Equal(t, http.StatusOK, w.Code)

	var resp gameResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.SessionID)
}

func TestConfirmRequiresCorrectFlag(t *testing.T) {
	r := newTestServer(t)

	w := postJSON(t, r, "/api/confirm", map[string]any{"guess": "Mohamed Salah"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmRequiresGuess(t *testing.T) {
	r := newTestServer(t)

	w := postJSON(t, r, "/api/confirm", map[string]any{"correct": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmWrongGuess(t *testing.T) {
	r := newTestServer(t)

	w := postJSON(t, r, "/api/confirm", map[string]any{
		"history": []map[string]any{
			{"question": "هل يلعب في أوروبا؟", "answer": "yes"},
		},
		"guess":   "Mohamed Salah",
		"correct": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, false, resp["correct"])
	assert.Equal(t, false, resp["stored"])
}

func TestConfirmCorrectGuessStores(t *testing.T) {
	r := newTestServer(t)

	w := postJSON(t, r, "/api/confirm", map[string]any{
		"history": []map[string]any{
			{"question": "هل يلعب في أوروبا؟", "answer": "yes"},
		},
		"guess":   "Mohamed Salah",
		"correct": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, true, resp["correct"])
	assert.Equal(t, true, resp["stored"])
}

func TestConfirmFinalCommits(t *testing.T) {
	r := newTestServer(t)

	w := postJSON(t, r, "/api/confirm-final", map[string]any{
		"sessionId": "97e0e823-42c3-4d54-9141-9d3ed9a63a6a",
		"guess":     "Mohamed Salah",
		"history": []map[string]any{
			{"question": "هل يلعب في أوروبا؟", "answer": "yes"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, true, resp["stored"])
	assert.NotEmpty(t, resp["playerId"])
	assert.Equal(t, "97e0e823-42c3-4d54-9141-9d3ed9a63a6a", resp["sessionId"])
}
