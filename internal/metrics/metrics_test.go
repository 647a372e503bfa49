package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/health", "/health"},
		{"/registry/register", "/registry/register"},
		{"/registry/instances/abc-123", "/registry/instances"},
		{"/trading/orders/42", "/trading"},
		{"/gamefi", "/gamefi"},
	}
	for _, tt := range tests {
		if got := canonicalPath(tt.raw); got != tt.want {
			t.Errorf("canonicalPath(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestInstrumentHandler_RecordsStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := InstrumentHandler(inner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trading/orders", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 passed through", rec.Code)
	}
}

func TestHandler_Exposition(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); len(body) == 0 {
		t.Fatal("empty exposition body")
	}
}
