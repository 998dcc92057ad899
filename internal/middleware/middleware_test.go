package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/auth"
)

func router(svc *auth.JWTService, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("http://overlay.local"))
	r.GET("/x", JWT(svc), guard, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func call(t *testing.T, r *gin.Engine, token string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRoleGuards(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	tok := func(role string) string {
		s, err := svc.Generate("test", role)
		require.NoError(t, err)
		return s
	}

	cases := []struct {
		name  string
		guard gin.HandlerFunc
		role  string
		want  int
	}{
		{"ingest writes", Ingest(), auth.RoleIngest, http.StatusOK},
		{"reader cannot write", Ingest(), auth.RoleReader, http.StatusForbidden},
		{"reader reads", Reader(), auth.RoleReader, http.StatusOK},
		{"ingest reads", Reader(), auth.RoleIngest, http.StatusOK},
		{"admin passes all", Ingest(), auth.RoleAdmin, http.StatusOK},
		{"only admin administers", Admin(), auth.RoleIngest, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, call(t, router(svc, tc.guard), tok(tc.role)))
		})
	}
}

func TestJWTRejectsMissingOrBadToken(t *testing.T) {
	r := router(auth.NewJWTService("secret", 1), Reader())
	assert.Equal(t, http.StatusUnauthorized, call(t, r, ""))
	assert.Equal(t, http.StatusUnauthorized, call(t, r, "garbage"))
}

func TestCORSPreflight(t *testing.T) {
	r := router(auth.NewJWTService("secret", 1), Reader())
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://overlay.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://overlay.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy(" http://overlay.local , http://dash.local")
	assert.Equal(t, "http://dash.local", p.allow("http://dash.local"))
	assert.Equal(t, "", p.allow("http://evil.example"))
	assert.Equal(t, "*", newOriginPolicy("").allow("http://anything"))
	assert.Equal(t, "*", newOriginPolicy("http://a, *").allow("http://b"))
}
