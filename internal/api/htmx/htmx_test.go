package htmx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRedirect(t *testing.T) {
	rec := httptest.NewRecorder()
	Redirect(rec, httptest.NewRequest(http.MethodPost, "/logout", nil), "/signed-out", http.StatusSeeOther)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/signed-out" {
		t.Fatalf("expected 303 to /signed-out, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("HX-Request", "true")
	rec = httptest.NewRecorder()
	Redirect(rec, req, "/signed-out", http.StatusSeeOther)
	if rec.Code != http.StatusNoContent || rec.Header().Get("HX-Redirect") != "/signed-out" {
		t.Fatalf("expected HX-Redirect, got %d %q", rec.Code, rec.Header().Get("HX-Redirect"))
	}
}
