package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/v1/status", 200, 100*time.Millisecond)
	RecordRequest("POST", "/v1/backup", 201, 50*time.Millisecond)
	RecordRequest("GET", "/v1/status", 404, 10*time.Millisecond)
}

func TestRecordEmailProcessed(t *testing.T) {
	RecordEmailProcessed("thank_you", "sent")
	RecordEmailProcessed("followup", "failed")
	RecordEmailProcessed("followup", "skipped")
}

func TestRecordTaskScheduled(t *testing.T) {
	RecordTaskScheduled("thank_you")
	RecordDuplicatePrevented("followup")
	RecordBatch("thank_you")
}

func TestRecordJobRun(t *testing.T) {
	RecordJobRun("thank_you_emails", true, 3*time.Second)
	RecordJobRun("followup_emails", false, 200*time.Millisecond)
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection("/v1/feedback/{token}")
}

func TestSetDBConnections(t *testing.T) {
	SetDBConnections(3)
	SetDBConnections(0)
}

func TestHandler(t *testing.T) {
	RecordJobRun("handler_test", true, time.Second)

	handler := Handler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "aftercare_job_runs_total") {
		t.Error("expected aftercare_job_runs_total in metrics output")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

func TestRoutePattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			got = routePattern(req)
		})
	})
	r.Post("/v1/feedback/{token}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest("POST", "/v1/feedback/abc-123", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got != "/v1/feedback/{token}" {
		t.Errorf("expected route pattern, got %s", got)
	}

	plain := httptest.NewRequest("GET", "/plain", nil)
	if p := routePattern(plain); p != "/plain" {
		t.Errorf("expected raw path without chi context, got %s", p)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
