package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestItoa(t *testing.T) {
	for n, want := range map[int]string{0: "0", 200: "200", 404: "404", 1234: "1234"} {
		if got := itoa(n); got != want {
			t.Errorf("itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestRoutePatternFallback(t *testing.T) {
	// Outside a chi route, the raw path is used.
	req := httptest.NewRequest(http.MethodGet, "/whatever/123", nil)
	if got := routePatternOrPath(req); got != "/whatever/123" {
		t.Fatalf("got %q", got)
	}
}

func TestMetricsMiddlewareRecordsStatus(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status %d", rec.Code)
	}
}
