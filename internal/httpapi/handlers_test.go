package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/observability"
	"tokosamanda/backend/internal/service"
	"tokosamanda/backend/internal/store/memory"
)

// newTestAPI builds a full API with a seeded in-memory store, a real
// AuthManager and a real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_STAFF_PASSWORD", "staff123")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := memory.NewSeeded()
	metrics := observability.NewMetrics()
	svc := service.New(repo, service.Options{Logger: logger, Metrics: metrics})
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, repo)

	return New(svc, auth, Options{AllowedOrigin: "http://127.0.0.1:3000", Logger: logger, Metrics: metrics})
}

func doJSON(t *testing.T, api *API, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var payload domain.LoginResponse
	decodeBody(t, rec, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	return login(t, api, "admin", "admin123")
}

func createPurchase(t *testing.T, api *API, token string, productID int64, qty int) domain.Transaction {
	t.Helper()
	rec := doJSON(t, api, http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"supplier_id": 1,
		"items":       []map[string]any{{"product_id": productID, "quantity": qty, "unit_price": "65000"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Purchase domain.Transaction `json:"purchase"`
	}
	decodeBody(t, rec, &payload)
	return payload.Purchase
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLedgerRoutesRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	for _, path := range []string{"/api/v1/purchases", "/api/v1/sales", "/api/v1/reports/stock", "/api/v1/products/1/stock"} {
		rec := doJSON(t, api, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
	rec := doJSON(t, api, http.MethodGet, "/api/v1/purchases", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestPurchaseSaleAndReversalFlow(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	purchase := createPurchase(t, api, token, 1, 10)
	if purchase.ID == 0 || len(purchase.Items) != 1 || purchase.CounterpartyName != "CV Sumber Rejeki" {
		t.Fatalf("unexpected purchase: %+v", purchase)
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"items": []map[string]any{{"product_id": 1, "quantity": 4, "unit_price": "72000"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for sale, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale struct {
		Sale domain.Transaction `json:"sale"`
	}
	decodeBody(t, rec, &sale)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/1/stock", token, nil)
	var stock struct {
		CurrentStock int `json:"current_stock"`
	}
	decodeBody(t, rec, &stock)
	if stock.CurrentStock != 6 {
		t.Fatalf("expected stock 6, got %d", stock.CurrentStock)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+itoa(sale.Sale.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for sale lookup, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/sales/"+itoa(sale.Sale.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for sale delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var reversal domain.ReversalResult
	decodeBody(t, rec, &reversal)
	if len(reversal.Adjustments) != 1 || reversal.Adjustments[0].Change != 4 {
		t.Fatalf("unexpected reversal: %+v", reversal)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/sales/"+itoa(sale.Sale.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for second delete, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/purchases/"+itoa(purchase.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for purchase delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/products/1/ledger", token, nil)
	var card domain.ProductLedger
	decodeBody(t, rec, &card)
	if card.CurrentStock != 0 || len(card.Batches) != 1 {
		t.Fatalf("unexpected ledger card: %+v", card)
	}
}

func TestCreateSaleInsufficientStockReturns422(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	createPurchase(t, api, token, 2, 3)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"items": []map[string]any{{"product_id": 2, "quantity": 5, "unit_price": "18000"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		ProductID int64 `json:"product_id"`
		Shortfall int   `json:"shortfall"`
		Available int   `json:"available"`
	}
	decodeBody(t, rec, &body)
	if body.ProductID != 2 || body.Shortfall != 2 || body.Available != 3 {
		t.Fatalf("unexpected shortfall body: %+v", body)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales", token, nil)
	var list struct {
		Sales []domain.Transaction `json:"sales"`
	}
	decodeBody(t, rec, &list)
	if len(list.Sales) != 0 {
		t.Fatalf("expected no sales recorded, got %d", len(list.Sales))
	}
}

func TestValidationErrorsReturn400WithField(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"items": []map[string]any{{"product_id": 1, "quantity": 0, "unit_price": "1000"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["field"] != "items[0].quantity" {
		t.Fatalf("expected field items[0].quantity, got %q", body["field"])
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/purchases", token, map[string]any{"items": []any{}, "surprise": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/purchases/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/purchases?from=2024-07-10&to=2024-07-01", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reversed range, got %d", rec.Code)
	}
}

func TestUnknownProductReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products/999/stock", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStaffCannotDeleteTransactions(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAsAdmin(t, api)
	staff := login(t, api, "staff", "staff123")
	purchase := createPurchase(t, api, staff, 3, 5)

	rec := doJSON(t, api, http.MethodDelete, "/api/v1/purchases/"+itoa(purchase.ID), staff, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff delete, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodDelete, "/api/v1/purchases/"+itoa(purchase.ID), admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin delete, got %d", rec.Code)
	}
}

func TestReportsEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	createPurchase(t, api, token, 1, 40)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/reports/stock", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var report domain.StockReport
	decodeBody(t, rec, &report)
	if len(report.Rows) != 9 {
		t.Fatalf("expected 9 product rows, got %d", len(report.Rows))
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/low-stock", token, nil)
	var low struct {
		Items []domain.LowStockItem `json:"items"`
	}
	decodeBody(t, rec, &low)
	if len(low.Items) != 5 {
		t.Fatalf("expected 5 low stock items, got %d", len(low.Items))
	}
	for _, item := range low.Items {
		if item.ProductID == 1 {
			t.Fatalf("stocked product should not be listed as low stock")
		}
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	api := newTestAPI(t)
	doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	rec := doJSON(t, api, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `toko_http_requests_total{code="200",route="/healthz"}`) {
		t.Fatalf("expected healthz request counter in metrics output")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
