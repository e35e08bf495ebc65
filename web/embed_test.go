package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDashboardHandlerServesIndex(t *testing.T) {
	h := DashboardHandler()

	for _, path := range []string{"/", "/conversations/unknown"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "/api/widget/events") {
			t.Fatalf("%s: expected dashboard markup", path)
		}
	}
}
