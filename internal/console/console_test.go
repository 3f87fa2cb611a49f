package console

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesPage(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/console", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get(RobotsTagHeader); got != RobotsTagValue {
		t.Fatalf("expected %s header %q, got %q", RobotsTagHeader, RobotsTagValue, got)
	}
	if !strings.Contains(rr.Body.String(), "/v1/moderations") {
		t.Fatalf("page should post to the moderation endpoint")
	}
}

func TestHandlerRejectsPost(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodPost, "/console", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get(RobotsTagHeader); got != RobotsTagValue {
		t.Fatalf("expected %s header on errors too, got %q", RobotsTagHeader, got)
	}
}
