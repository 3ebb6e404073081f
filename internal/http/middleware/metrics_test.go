package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func metricsRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/body", func(c *gin.Context) { c.String(http.StatusOK, "payload") })
	r.GET("/nobody", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func hit(t *testing.T, r *gin.Engine, path string, want int) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if w.Code != want {
		t.Fatalf("GET %s = %d, want %d", path, w.Code, want)
	}
}

func TestMetrics_CountsRequestsPerRoute(t *testing.T) {
	r := metricsRouter()

	before := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/body", "200"))
	hit(t, r, "/body", http.StatusOK)
	hit(t, r, "/body", http.StatusOK)

	after := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/body", "200"))
	if after != before+2 {
		t.Fatalf("counter /body 200 = %v, want %v", after, before+2)
	}
}

func TestMetrics_UnmatchedRouteUsesRawPath(t *testing.T) {
	r := metricsRouter()

	before := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/missing", "404"))
	hit(t, r, "/missing", http.StatusNotFound)

	after := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/missing", "404"))
	if after != before+1 {
		t.Fatalf("404 counter = %v, want %v", after, before+1)
	}
}

func TestMetrics_InflightSettlesToZero(t *testing.T) {
	r := metricsRouter()

	// a bodyless 204 also exercises the size < 0 skip
	hit(t, r, "/nobody", http.StatusNoContent)

	if g := testutil.ToFloat64(httpInflight); g != 0 {
		t.Fatalf("inflight gauge = %v after requests finished", g)
	}
}
