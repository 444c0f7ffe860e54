package apiutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codr1/LeagueConsole/internal/leagueapi"
)

func TestWriteErrorPassesBackendThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &leagueapi.APIError{StatusCode: http.StatusForbidden, Body: []byte(`{"message":"committee only"}`)}
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if rec.Body.String() != `{"message":"committee only"}` || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected raw json body, got %q (%s)", rec.Body.String(), rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), &leagueapi.APIError{StatusCode: http.StatusBadGateway, Body: []byte("upstream down")})
	if rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" || rec.Body.String() != "upstream down" {
		t.Fatalf("expected plain body, got %q", rec.Body.String())
	}
}

func TestWriteErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"field", FieldError{Field: "page", Reason: "must be greater than 0"}, http.StatusBadRequest},
		{"handler", HandlerError{Status: http.StatusServiceUnavailable, Message: "no browser context"}, http.StatusServiceUnavailable},
		{"transport", errors.New("dial tcp: connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestListOptionsFromQuery(t *testing.T) {
	opts, err := ListOptionsFromQuery(httptest.NewRequest(http.MethodGet, "/?page=2&pageSize=25&search=%20fal%20", nil))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Page != 2 || opts.PageSize != 25 || opts.Search != "fal" {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := ListOptionsFromQuery(httptest.NewRequest(http.MethodGet, "/?page=0", nil)); err == nil {
		t.Fatal("expected error for page 0")
	}
	var fieldErr FieldError
	if _, err := ListOptionsFromQuery(httptest.NewRequest(http.MethodGet, "/?pageSize=abc", nil)); !errors.As(err, &fieldErr) || fieldErr.Field != "pageSize" {
		t.Fatalf("expected pageSize field error, got %v", err)
	}
}
