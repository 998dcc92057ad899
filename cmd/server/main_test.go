package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/config"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/app"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/store/memstore"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *memstore.Store
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server: config.ServerConfig{StoreBackend: "memory", CORSAllowedOrigins: "*"},
		JWT:    config.JWTConfig{Secret: "test-secret", ExpireHours: 1},
		Memory: config.MemoryConfig{
			NotableThreshold:   0.7,
			NotableRetention:   50,
			HighlightThreshold: 0.7,
			BaselineWindow:     50,
			BaselineMinSamples: 5,
			DonationTrigger:    10,
			RelationshipCap:    100,
			PointsPerLevel:     5,
			RecallLimit:        20,
			StoreRetryAttempts: 2,
			StoreRetryInitial:  time.Millisecond,
		},
		Analytics: config.AnalyticsConfig{Schedule: "@every 15m", Period: 15 * time.Minute, MetricTypes: models.MetricTypes, TopK: 5, Parallelism: 1},
	}
	m := memstore.New()
	a := app.NewWithStores(cfg, store.Memory(m), nil)
	t.Cleanup(a.Close)

	tokens := map[string]string{}
	for _, role := range []string{auth.RoleIngest, auth.RoleReader, auth.RoleAdmin} {
		tok, err := a.JWT.Generate("test-"+role, role)
		require.NoError(t, err)
		tokens[role] = tok
	}
	return &testServer{t: t, router: newRouter(a), store: m, tokens: tokens}
}

func (s *testServer) do(method, path, role string, body interface{}) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[role])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodPost, "/api/v1/game-sessions", auth.RoleIngest, map[string]string{"game_name": "Elden Ring"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var game models.GameSession
	require.NoError(t, json.Unmarshal(env.Data, &game))

	code, _ = s.do(http.MethodPost, "/api/v1/game-sessions", auth.RoleIngest, map[string]string{"game_name": "Hades"})
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(http.MethodPost, "/api/v1/stream-sessions", auth.RoleIngest, nil)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var stream models.StreamSession
	require.NoError(t, json.Unmarshal(env.Data, &stream))

	code, env = s.do(http.MethodPost, "/api/v1/stream-sessions/current/attach", auth.RoleIngest, map[string]string{"game_session_id": game.ID.String()})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(http.MethodPost, "/api/v1/events", auth.RoleIngest, map[string]interface{}{
		"event_type":   "boss_death",
		"category":     "combat",
		"data":         map[string]string{"boss": "Margit"},
		"impact_score": 0.95,
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	code, env = s.do(http.MethodGet, "/api/v1/stream-sessions/"+stream.ID.String()+"/highlights", auth.RoleReader, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	var recent struct {
		Highlights []models.StreamHighlight `json:"highlights"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &recent))
	require.Len(t, recent.Highlights, 1)
	assert.Equal(t, "epic_moment", recent.Highlights[0].HighlightType)

	code, _ = s.do(http.MethodDelete, "/api/v1/game-sessions/"+game.ID.String(), auth.RoleIngest, nil)
	assert.Equal(t, http.StatusForbidden, code, "deletion is an admin operation")
	code, env = s.do(http.MethodDelete, "/api/v1/game-sessions/"+game.ID.String(), auth.RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, code, "open sessions cannot be deleted")
	assert.Equal(t, "invalid state", env.Kind)
}

func TestRoleChecks(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodGet, "/api/v1/game-sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodPost, "/api/v1/stream-sessions", auth.RoleReader, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/api/v1/game-sessions", auth.RoleReader, nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := s.do(http.MethodPost, "/api/v1/auth/tokens", auth.RoleAdmin, map[string]string{"service": "overlay", "role": auth.RoleReader})
	assert.Equal(t, http.StatusCreated, code, env.Error)
}

func TestWritesWithoutSessionAreRejected(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodPost, "/api/v1/interactions", auth.RoleIngest, map[string]string{
		"viewer_username":  "alice",
		"interaction_type": "chat",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "no active session", env.Kind)

	code, _ = s.do(http.MethodPost, "/api/v1/events", auth.RoleIngest, map[string]string{"event_type": "death"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStoreOutageDropsWrite(t *testing.T) {
	s := newTestServer(t)
	code, _ := s.do(http.MethodPost, "/api/v1/game-sessions", auth.RoleIngest, map[string]string{"game_name": "Hades"})
	require.Equal(t, http.StatusCreated, code)

	s.store.FailNext(2)
	code, env := s.do(http.MethodPost, "/api/v1/events", auth.RoleIngest, map[string]string{"event_type": "death", "category": "combat"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "dropped", env.Kind)
}
