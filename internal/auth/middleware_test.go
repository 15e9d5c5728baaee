package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:dashboards:query_writer|query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.ClientID != "dashboards" {
		t.Fatalf("ClientID = %q", identity.ClientID)
	}
	if !identity.HasRole(RoleQueryWriter) {
		t.Fatal("expected query_writer role")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	_, err := NewStaticAPIKeyValidator("invalid")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schemas", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.ClientID != "t1" {
			t.Fatalf("ClientID = %q", identity.ClientID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/schemas", nil)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStaticAPIKeyValidatorRejectsUnknownRoleAndDuplicates(t *testing.T) {
	if _, err := NewStaticAPIKeyValidator("k1:t1:ingest_writer"); err == nil {
		t.Fatal("expected unknown role error")
	}
	if _, err := NewStaticAPIKeyValidator("k1:t1:query_reader,k1:t2:query_writer"); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestWriterImpliesReader(t *testing.T) {
	writer := Identity{ClientID: "etl", Roles: []string{RoleQueryWriter}}
	if !writer.HasRole(RoleQueryReader) {
		t.Fatal("writer should read")
	}
	reader := Identity{ClientID: "bi", Roles: []string{RoleQueryReader}}
	if reader.HasRole(RoleQueryWriter) {
		t.Fatal("reader should not write")
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleQueryWriter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/load", nil)
	handler.ServeHTTP(rr, req.WithContext(WithIdentity(req.Context(), Identity{ClientID: "bi", Roles: []string{RoleQueryReader}})))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/load", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status without identity = %d", rr.Code)
	}
}
