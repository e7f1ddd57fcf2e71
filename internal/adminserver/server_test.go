package adminserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz_NoCheckAlwaysReady(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz_FailingCheckReturns503(t *testing.T) {
	t.Parallel()
	h := New(Deps{ReadyCheck: func(context.Context) error { return errors.New("store unreachable") }})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAdminRoutes_DisabledWithoutKey(t *testing.T) {
	t.Parallel()
	h := New(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/sweep", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when AdminKey is empty", rec.Code)
	}
}

func TestAdminRoutes_RejectsWrongKey(t *testing.T) {
	t.Parallel()
	swept := false
	h := New(Deps{
		AdminKey: "s3cr3t",
		Sweep:    func(context.Context) { swept = true },
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/sweep", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if swept {
		t.Error("sweep ran despite bad admin key")
	}
}

func TestAdminRoutes_Sweep(t *testing.T) {
	t.Parallel()
	swept := false
	h := New(Deps{
		AdminKey: "s3cr3t",
		Sweep:    func(context.Context) { swept = true },
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/sweep", nil)
	req.Header.Set("X-Admin-Key", "s3cr3t")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !swept {
		t.Error("expected sweep to run")
	}
}

func TestAdminRoutes_ResyncCommands(t *testing.T) {
	t.Parallel()
	called := false
	h := New(Deps{
		AdminKey: "s3cr3t",
		Resync: func(context.Context) error {
			called = true
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/resync-commands", nil)
	req.Header.Set("X-Admin-Key", "s3cr3t")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !called {
		t.Error("expected resync to run")
	}
}

func TestAdminRoutes_ResyncFailureReturns500(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		AdminKey: "s3cr3t",
		Resync: func(context.Context) error {
			return errors.New("discord unavailable")
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/resync-commands", nil)
	req.Header.Set("X-Admin-Key", "s3cr3t")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
