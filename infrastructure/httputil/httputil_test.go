package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nearloop/backend/infrastructure/logging"
)

func TestGetAccountID_FromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), logging.UserIDKey, "account-123")
	req = req.WithContext(ctx)

	if got := GetAccountID(req); got != "account-123" {
		t.Fatalf("GetAccountID() = %q, want account-123", got)
	}
}

func TestGetAccountID_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetAccountID(req); got != "" {
		t.Fatalf("GetAccountID() = %q, want empty", got)
	}
}

func TestRequireAccountID_MissingWrites401(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	_, ok := RequireAccountID(rr, req)
	if ok {
		t.Fatal("RequireAccountID() should fail without an authenticated account")
	}
	if rr.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Result().StatusCode)
	}
}

func TestRequireAccountID_Present(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), logging.UserIDKey, "account-456")
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()

	got, ok := RequireAccountID(rr, req)
	if !ok || got != "account-456" {
		t.Fatalf("RequireAccountID() = (%q, %v), want (account-456, true)", got, ok)
	}
}

func TestRequireAdminRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), logging.RoleKey, "admin")
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()

	if !RequireAdminRole(rr, req) {
		t.Fatal("RequireAdminRole() should pass for admin role")
	}
}

func TestRequireAdminRole_Denied(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), logging.RoleKey, "member")
	req = req.WithContext(ctx)
	rr := httptest.NewRecorder()

	if RequireAdminRole(rr, req) {
		t.Fatal("RequireAdminRole() should fail for non-admin role")
	}
	if rr.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Result().StatusCode)
	}
}

func TestWriteErrorResponse_IncludesTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	rr := httptest.NewRecorder()

	WriteErrorResponse(rr, req, http.StatusBadRequest, "VAL_3001", "bad input", nil)

	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != "VAL_3001" || resp.Message != "bad input" || resp.TraceID != "trace-abc" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	body := bytes.NewBufferString(`{"a":"` + strings.Repeat("x", 100) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Body = http.MaxBytesReader(nil, req.Body, 4)
	rr := httptest.NewRecorder()

	var v map[string]string
	if DecodeJSON(rr, req, &v) {
		t.Fatal("DecodeJSON() should fail for oversized body")
	}
	if rr.Result().StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Result().StatusCode)
	}
}

func TestDecodeJSONOptional_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rr := httptest.NewRecorder()

	var v map[string]string
	if !DecodeJSONOptional(rr, req, &v) {
		t.Fatal("DecodeJSONOptional() should succeed with no body")
	}
}

func TestPaginationParams_ClampsToMax(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?offset=5&limit=500", nil)
	offset, limit := PaginationParams(req, 20, 100)
	if offset != 5 || limit != 100 {
		t.Fatalf("PaginationParams() = (%d, %d), want (5, 100)", offset, limit)
	}
}

func TestPaginationParams_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	offset, limit := PaginationParams(req, 20, 100)
	if offset != 0 || limit != 20 {
		t.Fatalf("PaginationParams() = (%d, %d), want (0, 20)", offset, limit)
	}
}
