package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ezbridge/bridge/internal/models"
	"github.com/ezbridge/bridge/internal/portal"
	"github.com/ezbridge/bridge/internal/services"
)

func TestRequestIDSetsHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(true))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(SecurityHeadersConfig{IsDevelopment: false}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'self'")
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestSanitizeHeadersRedactsSensitive(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret")
	h.Set("Cookie", "bridge_session=abc")
	h.Set("Accept", "application/json")

	out := SanitizeHeaders(h)
	assert.Equal(t, []string{"<redacted>"}, out["Authorization"])
	assert.Equal(t, []string{"<redacted>"}, out["Cookie"])
	assert.Equal(t, []string{"application/json"}, out["Accept"])
}

var authDBSeq int

func newAuthEnv(t *testing.T) *services.AuthService {
	t.Helper()
	authDBSeq++
	dsn := fmt.Sprintf("file:middleware%d?mode=memory&cache=shared", authDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.Session{}))
	return services.NewAuthService(db, "test-secret", time.Hour)
}

func TestPortalAuthOpenDuringBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthEnv(t)

	r := gin.New()
	r.Use(PortalAuth(auth))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPortalAuthRequiresSessionAfterSetup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuthEnv(t)
	_, err := auth.Setup("admin", "correct horse battery")
	require.NoError(t, err)

	r := gin.New()
	r.Use(PortalAuth(auth))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// No cookie: rejected.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "admin.example.com"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid session for the admin domain: accepted.
	token, err := auth.Login("admin", "correct horse battery", "admin.example.com")
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "admin.example.com"
	req.AddCookie(&http.Cookie{Name: portal.CookieName, Value: token})
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
