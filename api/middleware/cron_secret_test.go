package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCronSecretAllowsMatchingSecret(t *testing.T) {
	called := false
	handler := CronSecret("s3cr3t", testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/auto-settle", nil)
	req.Header.Set(cronSecretHeader, "s3cr3t")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestCronSecretRejectsMismatch(t *testing.T) {
	handler := CronSecret("s3cr3t", testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/auto-settle", nil)
	req.Header.Set(cronSecretHeader, "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCronSecretDisabledWhenUnset(t *testing.T) {
	handler := CronSecret("", testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/auto-settle", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
