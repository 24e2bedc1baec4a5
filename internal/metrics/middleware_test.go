package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	notFound := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, path := range []string{"/healthz", "/missing"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != ok+1 {
		t.Errorf("Expected httpRequestsTotal for GET /healthz to grow by 1, got %f", val-ok)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != notFound+1 {
		t.Errorf("Expected httpRequestsTotal for GET /missing to grow by 1, got %f", val-notFound)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("Expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}
