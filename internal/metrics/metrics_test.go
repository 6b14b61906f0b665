package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("post_payment", "success", 10*time.Millisecond)
	m.ObserveOperation("post_payment", "success", 10*time.Millisecond)
	m.ObserveOperation("post_payment", "CONTRACT_CLOSED", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("post_payment", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("post_payment", "CONTRACT_CLOSED")))
}

func TestObserveTenantSweep(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTenantSweep(3, nil)
	m.ObserveTenantSweep(0, errors.New("unreachable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepTenants.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepTenants.WithLabelValues("failure")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.contractsFlagged))
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	m := New(prometheus.NewRegistry())

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/v1/contracts/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/contracts/abc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/contracts/:id", "200")))
}
