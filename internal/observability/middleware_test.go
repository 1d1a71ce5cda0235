package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/simbridge/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestMetricsUseRouteTemplates(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()), RequestMetricsMiddleware("mw-test"))
	r.POST("/callbacks/:simulation", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	routed := httpRequests.WithLabelValues("mw-test", http.MethodPost, "/callbacks/:simulation", "202")
	unmatched := httpRequests.WithLabelValues("mw-test", http.MethodGet, "unmatched", "404")
	beforeRouted := testutil.ToFloat64(routed)
	beforeUnmatched := testutil.ToFloat64(unmatched)

	for _, sim := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/callbacks/"+sim, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/no/such/path", nil))

	if got := testutil.ToFloat64(routed); got != beforeRouted+2 {
		t.Fatalf("routed requests got=%v want=%v", got, beforeRouted+2)
	}
	if got := testutil.ToFloat64(unmatched); got != beforeUnmatched+1 {
		t.Fatalf("unmatched requests got=%v want=%v", got, beforeUnmatched+1)
	}
}
