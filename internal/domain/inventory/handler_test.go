package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/onclinic/clinic/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	svc, _ := newTestService(t, nil)
	return NewHandler(svc, 30), echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(context.Background(), "pharm-7", []string{auth.RolePharmacist}))
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_CreateItem(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"name":"Paracetamol","unit":"strip","sale_price":"12.50","opening_stock":20,"current_stock":999}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body), rec)

	if err := h.CreateItem(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var item Item
	json.Unmarshal(rec.Body.Bytes(), &item)
	if item.CurrentStock != 20 {
		t.Errorf("expected current_stock 20, got %d", item.CurrentStock)
	}
}

func TestHandler_CreateItem_Invalid(t *testing.T) {
	h, e := newTestHandler(t)
	c := e.NewContext(jsonRequest(http.MethodPost, `{"opening_stock":2}`), httptest.NewRecorder())
	if code := httpCode(t, h.CreateItem(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetItem(t *testing.T) {
	h, e := newTestHandler(t)
	item := createItem(t, h.svc, "Cetirizine", 4)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if err := h.GetItem(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetItem_NotFound(t *testing.T) {
	h, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if code := httpCode(t, h.GetItem(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_GetItem_BadID(t *testing.T) {
	h, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.GetItem(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_AdjustStock(t *testing.T) {
	h, e := newTestHandler(t)
	item := createItem(t, h.svc, "Cetirizine", 4)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"delta":6,"reason":"purchase","notes":"restock"}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if err := h.AdjustStock(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res AdjustResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Item == nil || res.Item.CurrentStock != 10 {
		t.Fatalf("expected stock 10, got %+v", res.Item)
	}
	if res.Entry.CreatedBy == nil || *res.Entry.CreatedBy != "pharm-7" {
		t.Errorf("expected created_by from the authenticated user, got %v", res.Entry.CreatedBy)
	}
}

func TestHandler_AdjustStock_Insufficient(t *testing.T) {
	h, e := newTestHandler(t)
	item := createItem(t, h.svc, "Cetirizine", 4)

	c := e.NewContext(jsonRequest(http.MethodPost, `{"delta":-5,"reason":"adjustment"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if code := httpCode(t, h.AdjustStock(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_UpdateItem_RejectsStock(t *testing.T) {
	h, e := newTestHandler(t)
	item := createItem(t, h.svc, "Cetirizine", 4)

	c := e.NewContext(jsonRequest(http.MethodPut, `{"current_stock":50}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if code := httpCode(t, h.UpdateItem(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ListItems(t *testing.T) {
	h, e := newTestHandler(t)
	createItem(t, h.svc, "A", 1)
	createItem(t, h.svc, "B", 1)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=1", nil), rec)
	if err := h.ListItems(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Item `json:"data"`
		Total   int    `json:"total"`
		HasMore bool   `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("unexpected page: %+v", resp)
	}
}

func TestHandler_Expiring_BadDays(t *testing.T) {
	h, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?days=soon", nil), httptest.NewRecorder())
	if code := httpCode(t, h.Expiring(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_LowStock(t *testing.T) {
	h, e := newTestHandler(t)
	threshold := 3
	h.svc.CreateItem(context.Background(), &Item{Name: "Low", OpeningStock: 1, LowStockThreshold: &threshold})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.LowStock(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var items []Item
	json.Unmarshal(rec.Body.Bytes(), &items)
	if len(items) != 1 || items[0].Name != "Low" {
		t.Errorf("unexpected low stock list %+v", items)
	}
}

func TestHandler_UpdateItem_NullClearsThreshold(t *testing.T) {
	h, e := newTestHandler(t)
	threshold := 3
	item := &Item{Name: "Low", OpeningStock: 1, LowStockThreshold: &threshold}
	if err := h.svc.CreateItem(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPut, `{"low_stock_threshold":null}`), rec)
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	if err := h.UpdateItem(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Item
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.LowStockThreshold != nil {
		t.Errorf("expected threshold cleared, got %d", *got.LowStockThreshold)
	}
	if got.Name != "Low" {
		t.Errorf("absent name should be unchanged, got %q", got.Name)
	}
}
