package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantOrigin string
		wantStatus int
	}{
		{name: "open allowlist", method: http.MethodGet, origin: "https://a.example", wantOrigin: "*", wantStatus: http.StatusOK},
		{name: "listed origin echoed", allowed: []string{"https://a.example"}, method: http.MethodGet, origin: "https://a.example", wantOrigin: "https://a.example", wantStatus: http.StatusOK},
		{name: "unlisted origin omitted", allowed: []string{"https://a.example"}, method: http.MethodGet, origin: "https://b.example", wantOrigin: "", wantStatus: http.StatusOK},
		{name: "preflight short-circuits", method: http.MethodOptions, origin: "https://a.example", wantOrigin: "*", wantStatus: http.StatusNoContent},
		{name: "same origin untouched", method: http.MethodGet, wantOrigin: "", wantStatus: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/rooms", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			WithCORS(tc.allowed, next).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tc.wantOrigin)
			}
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}
