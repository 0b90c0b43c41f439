package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mercadinho/backend/internal/domain"
	"mercadinho/backend/internal/pricing"
	"mercadinho/backend/internal/service"
	"mercadinho/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, pricing.NewEngine(nil, 0))
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

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["products"] == nil {
		t.Fatalf("expected products key in response, got %v", body)
	}
}

func TestSellerBlockedFromSettingsPage(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "vendedor", "seller123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller without configuracoes page, got %d", rec.Code)
	}
}

func TestSellerCanListSales(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "vendedor", "seller123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for seller with vendas page, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// TestCheckoutFlow drives a full sale through the HTTP surface: open a cart,
// add a line, checkout, then cancel the resulting sale.
func TestCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	do := func(method, path string, payload any) *httptest.ResponseRecorder {
		t.Helper()
		var body *bytes.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			body = bytes.NewReader(raw)
		} else {
			body = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/v1/carts", domain.CartOpenRequest{CustomerID: "cust-maria-01"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open cart: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var opened struct {
		Cart domain.CartView `json:"cart"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode cart: %v", err)
	}

	rec = do(http.MethodPost, "/api/v1/carts/"+opened.Cart.ID+"/lines", domain.CartAddLineRequest{
		ProductID: "prod-arroz-01",
		Qty:       2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = do(http.MethodPost, "/api/v1/carts/"+opened.Cart.ID+"/checkout", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var committed struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&committed); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if committed.Sale.TotalCents != 5300 {
		t.Fatalf("expected total 5300 for 2x Arroz 5kg, got %d", committed.Sale.TotalCents)
	}

	rec = do(http.MethodPost, "/api/v1/sales/"+committed.Sale.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Second cancel trips the double-cancel guard.
	rec = do(http.MethodPost, "/api/v1/sales/"+committed.Sale.ID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestReceiptDownload(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	open, _ := json.Marshal(domain.CartOpenRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", bytes.NewReader(open))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var opened struct {
		Cart domain.CartView `json:"cart"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&opened); err != nil {
		t.Fatalf("decode cart: %v", err)
	}

	line, _ := json.Marshal(domain.CartAddLineRequest{ProductID: "prod-agua-01", Qty: 1})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/carts/"+opened.Cart.ID+"/lines", bytes.NewReader(line))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("add line: expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/carts/"+opened.Cart.ID+"/checkout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var committed struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&committed); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+committed.Sale.ID+"/receipt?format=txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("expected plain-text receipt, got %q", ct)
	}
	if rec.Header().Get("Content-Disposition") == "" {
		t.Fatalf("expected attachment disposition for txt format")
	}
}
