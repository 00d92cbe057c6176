package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opsboard/internal/cache"
	"opsboard/internal/domain"
	"opsboard/internal/service"
	"opsboard/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSummaryCache{}, "OPS", time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleItems_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleItems_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.ItemListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Items) == 0 {
		t.Fatalf("expected seeded items in response")
	}
}

func TestHandleAuditLogs_StaffForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "staff", "staff123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on audit logs, got %d", rec.Code)
	}
}

// TestOrderLifecycleOverHTTP drives an order through creation, completion and
// cancellation over the real handler stack and checks the FIFO costing result.
// The seeded item item-kaos-01 has a 50 pc batch at cost 3200000 received two
// weeks ago and a 30 pc batch at cost 3500000 received three days ago.
func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	createBody, _ := json.Marshal(domain.OrderCreateRequest{
		Channel: "online",
		Lines: []domain.OrderLineInput{
			{ItemID: "item-kaos-01", Qty: 55},
		},
	})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, csrf, createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.OrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Order.Status != domain.OrderStatusNew {
		t.Fatalf("expected new order, got status %s", created.Order.Status)
	}
	if created.Order.TotalCents != 55*7500000 {
		t.Fatalf("expected total %d, got %d", int64(55)*7500000, created.Order.TotalCents)
	}

	completeBody, _ := json.Marshal(domain.CompleteOrderRequest{OrderID: created.Order.ID})
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/complete", token, csrf, completeBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete order: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var completed domain.CompleteOrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&completed); err != nil {
		t.Fatalf("decode complete response: %v", err)
	}
	wantCogs := int64(50)*3200000 + int64(5)*3500000
	if completed.CogsTotalCents != wantCogs {
		t.Fatalf("expected cogs %d, got %d", wantCogs, completed.CogsTotalCents)
	}
	if completed.GrossProfitCents != int64(55)*7500000-wantCogs {
		t.Fatalf("unexpected gross profit %d", completed.GrossProfitCents)
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/orders/%s/allocations", created.Order.ID), token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list allocations: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var allocBody struct {
		Allocations []domain.CogsAllocation `json:"allocations"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&allocBody); err != nil {
		t.Fatalf("decode allocations: %v", err)
	}
	if len(allocBody.Allocations) != 2 {
		t.Fatalf("expected 2 allocations across batches, got %d", len(allocBody.Allocations))
	}

	cancelBody, _ := json.Marshal(domain.CancelOrderRequest{OrderID: created.Order.ID})
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/cancel", token, csrf, cancelBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel order: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/"+created.Order.ID, token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order: expected 200, got %d", rec.Code)
	}
	var fetched domain.OrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if fetched.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", fetched.Order.Status)
	}
	if fetched.Order.CogsTotalCents != 0 || fetched.Order.GrossProfitCents != 0 {
		t.Fatalf("expected zeroed totals after cancel, got cogs %d profit %d", fetched.Order.CogsTotalCents, fetched.Order.GrossProfitCents)
	}
}

func TestCompleteUnknownOrderReturns404(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(domain.CompleteOrderRequest{OrderID: "order-missing"})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders/complete", token, csrf, body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCancelNewOrderReturns400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	createBody, _ := json.Marshal(domain.OrderCreateRequest{
		Channel: "offline",
		Lines: []domain.OrderLineInput{
			{ItemID: "item-sticker-01", Qty: 2},
		},
	})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, csrf, createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d", rec.Code)
	}
	var created domain.OrderResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	cancelBody, _ := json.Marshal(domain.CancelOrderRequest{OrderID: created.Order.ID})
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/cancel", token, csrf, cancelBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 cancelling a non-completed order, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateItemRequiresAdminRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "staff", "staff123")
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(domain.ItemCreateRequest{
		Name:           "Topi Snapback",
		Category:       "accessory",
		Unit:           "pcs",
		SalePriceCents: 6500000,
	})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/items", token, csrf, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff item creation, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSummaryReportCSVFormat(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/summary?format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Fatalf("expected csv content type, got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("section,key,value")) {
		t.Fatalf("expected csv header row, got %q", rec.Body.String())
	}
}

func TestCreateAndListStaffOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	body, _ := json.Marshal(domain.StaffCreateRequest{
		Username: "gudang1",
		Password: "rahasia99",
	})
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/staff", token, csrf, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// The new account can log in immediately.
	loginAs(t, api, "gudang1", "rahasia99")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/staff", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, req)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list staff: expected 200, got %d", listRec.Code)
	}
	var listBody struct {
		Staff []domain.StaffUser `json:"staff"`
	}
	if err := json.NewDecoder(listRec.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode staff list: %v", err)
	}
	var found bool
	for _, user := range listBody.Staff {
		if user.Username == "gudang1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected gudang1 in staff list, got %+v", listBody.Staff)
	}
}

// doJSON issues a request with auth and CSRF headers against the handler.
func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, csrf string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
