package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/observability"
	"stockbook/backend/internal/service"
	"stockbook/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := logging.Discard()
	repo := memory.NewSeeded(logger)
	svc := service.New(repo, service.Options{Logger: logger})
	auth := NewAuthManager(context.Background(), "test-secret-key-with-enough-bytes", time.Hour, repo, logger)

	return New(svc, auth, Config{AllowedOrigin: "*", Logger: logger, Metrics: observability.NewMetrics()})
}

// testClient logs in once and sends authenticated requests with a CSRF token.
type testClient struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newTestClient(t *testing.T, api *API, username, password string) *testClient {
	t.Helper()
	c := &testClient{t: t, handler: api.Handler()}

	rec := c.raw(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": username, "password": password}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s: %d %s", username, rec.Code, rec.Body.String())
	}
	var login domain.LoginResponse
	decodeBody(t, rec, &login)
	c.token = login.AccessToken

	rec = c.raw(http.MethodGet, "/api/v1/auth/csrf-token", nil, nil)
	var csrf map[string]string
	decodeBody(t, rec, &csrf)
	c.csrf = csrf["csrf_token"]
	return c
}

func (c *testClient) raw(method, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *testClient) do(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	return c.raw(method, path, payload, nil)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func createTestProduct(t *testing.T, c *testClient, qty int, cost string) domain.Product {
	t.Helper()
	rec := c.do(http.MethodPost, "/api/v1/products", map[string]any{
		"name":     "Test Booster",
		"type":     "Booster Packs",
		"quantity": qty,
		"cost":     cost,
		"price":    "5.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Product domain.Product `json:"product"`
	}
	decodeBody(t, rec, &body)
	return body.Product
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestListProductsIsScopedAndFiltered(t *testing.T) {
	api := newTestAPI(t)
	admin := newTestClient(t, api, "admin", "admin123")
	member := newTestClient(t, api, "member", "member123")

	var body struct {
		Products []domain.Product `json:"products"`
	}
	rec := admin.do(http.MethodGet, "/api/v1/products?hide_out_of_stock=true&sort=name", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products: %d %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &body)
	if len(body.Products) != 5 {
		t.Fatalf("expected 5 in-stock seeded products, got %d", len(body.Products))
	}

	rec = member.do(http.MethodGet, "/api/v1/products", nil)
	decodeBody(t, rec, &body)
	if len(body.Products) != 0 {
		t.Fatalf("member must not see admin products, got %d", len(body.Products))
	}

	rec = admin.do(http.MethodGet, "/api/v1/products?sort=colour", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sort, got %d", rec.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	p := createTestProduct(t, c, 10, "2.00")

	rec := c.do(http.MethodPost, "/api/v1/sales", map[string]any{
		"product_id":    p.ID,
		"units":         3,
		"sell_price":    "5.00",
		"override_cost": "3.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("record sale: %d %s", rec.Code, rec.Body.String())
	}
	var sold domain.SaleResponse
	decodeBody(t, rec, &sold)
	if !sold.Sale.Profit.Equal(decimal.RequireFromString("6")) || sold.Product.Quantity != 7 {
		t.Fatalf("unexpected sale response %+v", sold)
	}

	rec = c.do(http.MethodDelete, "/api/v1/sales/"+sold.Sale.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reverse sale: %d %s", rec.Code, rec.Body.String())
	}
	var reversed domain.ReverseSaleResponse
	decodeBody(t, rec, &reversed)
	if reversed.Product == nil || reversed.Product.Quantity != 10 || !reversed.Product.Profit.IsZero() {
		t.Fatalf("unexpected reversal %+v", reversed)
	}

	rec = c.do(http.MethodDelete, "/api/v1/sales/"+sold.Sale.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 reversing twice, got %d", rec.Code)
	}
}

func TestOversellReturns400(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	p := createTestProduct(t, c, 10, "2.00")

	rec := c.do(http.MethodPost, "/api/v1/sales", map[string]any{
		"product_id": p.ID,
		"units":      11,
		"sell_price": "5.00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestIdempotencyHeaderReplaysSale(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	p := createTestProduct(t, c, 10, "2.00")
	payload := map[string]any{"product_id": p.ID, "units": 1, "sell_price": "5.00"}
	headers := map[string]string{"Idempotency-Key": "checkout-42"}

	first := c.raw(http.MethodPost, "/api/v1/sales", payload, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first sale: %d %s", first.Code, first.Body.String())
	}
	second := c.raw(http.MethodPost, "/api/v1/sales", payload, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d %s", second.Code, second.Body.String())
	}
	var replay domain.SaleResponse
	decodeBody(t, second, &replay)
	if !replay.Duplicate {
		t.Fatalf("expected duplicate flag on replay")
	}
}

func TestStaleProductVersionReturns409(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	p := createTestProduct(t, c, 10, "2.00")

	rec := c.do(http.MethodPost, "/api/v1/products/"+p.ID+"/adjust", map[string]any{"delta": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("adjust: %d %s", rec.Code, rec.Body.String())
	}

	rec = c.do(http.MethodPatch, "/api/v1/products/"+p.ID, map[string]any{"name": "Renamed", "version": p.Version})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestExportSalesXLSX(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	p := createTestProduct(t, c, 10, "2.00")
	c.do(http.MethodPost, "/api/v1/sales", map[string]any{"product_id": p.ID, "units": 1, "sell_price": "5.00"})

	rec := c.do(http.MethodGet, "/api/v1/sales/export?format=xlsx", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "spreadsheetml") {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("expected xlsx attachment, got %q", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected zip container")
	}
}

func TestDeleteFolderReportsMovedLinks(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")

	rec := c.do(http.MethodPost, "/api/v1/folders", map[string]any{"name": "Shops", "color": "#10B981"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create folder: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Folder domain.LinkFolder `json:"folder"`
	}
	decodeBody(t, rec, &created)

	rec = c.do(http.MethodPost, "/api/v1/links", map[string]any{"name": "TCG", "url": "https://example.com", "folder_id": created.Folder.ID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create link: %d %s", rec.Code, rec.Body.String())
	}

	rec = c.do(http.MethodDelete, "/api/v1/folders/"+created.Folder.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete folder: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.FolderDeleteResponse
	decodeBody(t, rec, &resp)
	if resp.LinksMoved != 1 {
		t.Fatalf("expected 1 moved link, got %d", resp.LinksMoved)
	}
}

func TestUsersRouteRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	member := newTestClient(t, api, "member", "member123")
	admin := newTestClient(t, api, "admin", "admin123")

	if rec := member.do(http.MethodGet, "/api/v1/users", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", rec.Code)
	}

	rec := admin.do(http.MethodPost, "/api/v1/users", map[string]any{"username": "seller", "password": "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user: %d %s", rec.Code, rec.Body.String())
	}
	newTestClient(t, api, "seller", "pass1234")
}

func TestProfileIsCreatedOnFirstRead(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")

	rec := c.do(http.MethodGet, "/api/v1/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get profile: %d %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Profile domain.Profile `json:"profile"`
	}
	decodeBody(t, rec, &body)
	if body.Profile.FullName != "member" {
		t.Fatalf("expected default full name, got %q", body.Profile.FullName)
	}
}

func TestMetricsEndpointExposesLedgerCounters(t *testing.T) {
	api := newTestAPI(t)
	c := newTestClient(t, api, "member", "member123")
	createTestProduct(t, c, 3, "1.00")

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stockbook_http_requests_total") {
		t.Fatalf("expected http request counter in metrics output")
	}
}
