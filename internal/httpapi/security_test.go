package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/service"
	"stockbook/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestMutationWithoutCSRFTokenIsRejected(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	c.csrf = ""

	rec := c.do(http.MethodPost, "/api/v1/notes", map[string]any{"title": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}

	c.csrf = "not-a-real-token"
	rec = c.do(http.MethodDelete, "/api/v1/notes/whatever", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged csrf token, got %d", rec.Code)
	}
}

func TestWriteRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	api.writeRateLimit = 2
	c := newTestClient(t, api, "member", "member123")

	for i := 0; i < 3; i++ {
		rec := c.do(http.MethodPost, "/api/v1/notes", map[string]any{"title": fmt.Sprintf("note %d", i)})
		if i < 2 && rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d expected 201, got %d", i+1, rec.Code)
		}
		if i == 2 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 3 expected 429, got %d", rec.Code)
		}
	}

	if rec := c.do(http.MethodGet, "/api/v1/notes", nil); rec.Code != http.StatusOK {
		t.Fatalf("reads must not be throttled, got %d", rec.Code)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	api := newTestAPI(t)
	api.uploadMaxBytes = 1024
	c := newTestClient(t, api, "member", "member123")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "big.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(bytes.Repeat([]byte{0xff}, 4096))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusForMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.Invalid("units", "must be positive"), http.StatusBadRequest},
		{store.ErrInsufficientStock, http.StatusBadRequest},
		{fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{fmt.Errorf("%w: %w", store.ErrStorage, errors.New("dial tcp")), http.StatusServiceUnavailable},
		{service.ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()

	api.writeServiceError(rec, fmt.Errorf("%w: %w", store.ErrStorage, errors.New("pq: password authentication failed")))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("expected storage details to be hidden, got %s", rec.Body.String())
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}
