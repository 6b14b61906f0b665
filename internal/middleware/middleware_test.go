package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func serve(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := serve(router, http.MethodGet, "/", map[string]string{"X-Request-ID": "req-1"})
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = serve(router, http.MethodGet, "/", nil)
	assert.Len(t, w.Body.String(), 36)
}

func TestRequireTenantID(t *testing.T) {
	router := gin.New()
	router.Use(RequireTenantID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetTenantID(c))
	})

	tests := []struct {
		name       string
		tenantID   string
		wantStatus int
	}{
		{"missing", "", http.StatusBadRequest},
		{"not a uuid", "acme", http.StatusBadRequest},
		{"valid", "5f0c2d4e-8a1b-4c3d-9e7f-102030405060", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodGet, "/", map[string]string{"X-Tenant-ID": tt.tenantID})
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.tenantID, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := gin.New()
	router.Use(RequireUserID())
	router.POST("/cancel", RequireRole(quietLogger(), "admin", "manager"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
	}{
		{"no user", map[string]string{}, http.StatusUnauthorized},
		{"no role", map[string]string{"X-User-ID": "u1"}, http.StatusForbidden},
		{"agent", map[string]string{"X-User-ID": "u1", "X-User-Role": "agent"}, http.StatusForbidden},
		{"manager", map[string]string{"X-User-ID": "u1", "X-User-Role": "manager"}, http.StatusOK},
		{"admin any case", map[string]string{"X-User-ID": "u1", "X-User-Role": "Admin"}, http.StatusOK},
		{"super admin", map[string]string{"X-User-ID": "u1", "X-User-Role": "super_admin"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, http.MethodPost, "/cancel", tt.headers)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCronSecret(t *testing.T) {
	newRouter := func(secret string) *gin.Engine {
		router := gin.New()
		router.POST("/cron", CronSecret(secret, quietLogger()), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("matching secret", func(t *testing.T) {
		w := serve(newRouter("s3cret"), http.MethodPost, "/cron", map[string]string{CronSecretHeader: "s3cret"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		w := serve(newRouter("s3cret"), http.MethodPost, "/cron", map[string]string{CronSecretHeader: "guess"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		w := serve(newRouter("s3cret"), http.MethodPost, "/cron", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unconfigured secret rejects everything", func(t *testing.T) {
		w := serve(newRouter(""), http.MethodPost, "/cron", map[string]string{CronSecretHeader: ""})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRecovery(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(quietLogger()))
	router.GET("/", func(c *gin.Context) {
		panic("boom")
	})

	w := serve(router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
