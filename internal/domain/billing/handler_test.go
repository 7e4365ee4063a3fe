package billing

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

func newTestHandler(t *testing.T) (*Handler, *fixture, *echo.Echo) {
	f := newFixture(t, nil)
	return NewHandler(f.svc, ist), f, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(context.Background(), "recep-1", []string{auth.RoleReceptionist}))
}

func TestHandler_CreateBill(t *testing.T) {
	h, f, e := newTestHandler(t)
	cs := f.service(t, "Consultation", "300")

	body := `{"guest_name":"Walk-in","discount":"20","items":[{"service_id":"` + cs.ID.String() + `","quantity":2}]}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), rec)

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var bill BillDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &bill); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bill.BillNumber != "ON-250615-0001" {
		t.Errorf("unexpected bill number %s", bill.BillNumber)
	}
	if bill.NetAmount.String() != "580" {
		t.Errorf("expected net 580, got %s", bill.NetAmount)
	}
	if bill.CreatedBy == nil || *bill.CreatedBy != "recep-1" {
		t.Errorf("expected created_by recep-1, got %v", bill.CreatedBy)
	}
	if len(bill.Items) != 1 {
		t.Errorf("expected 1 line, got %d", len(bill.Items))
	}
}

func TestHandler_CreateBill_Insufficient(t *testing.T) {
	h, f, e := newTestHandler(t)
	item := f.item(t, "Insulin", 1, "300")

	body := `{"bill_type":"pharmacy","guest_name":"g","items":[{"inventory_item_id":"` + item.ID.String() + `","quantity":2}]}`
	c := e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder())

	err := h.CreateBill(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetBill_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetBill(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_ListBills_BadDate(t *testing.T) {
	h, _, e := newTestHandler(t)
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?from=15-06-2025", nil), httptest.NewRecorder())
	err := h.ListBills(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListBills(t *testing.T) {
	h, f, e := newTestHandler(t)
	cs := f.service(t, "Consultation", "300")
	for i := 0; i < 3; i++ {
		if _, err := f.svc.CreateBill(context.Background(), CreateBillRequest{
			GuestName: "g", Items: []LineRequest{{ServiceID: &cs.ID, Quantity: 1}},
		}, ""); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?bill_type=services&limit=2", nil), rec)
	if err := h.ListBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Bill `json:"data"`
		Total int    `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 3 || len(resp.Data) != 2 {
		t.Errorf("expected 2 of 3 bills, got %d of %d", len(resp.Data), resp.Total)
	}
}

func TestHandler_CreateService(t *testing.T) {
	h, _, e := newTestHandler(t)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"Blood test","category":"lab","price":"250"}`), rec)
	if err := h.CreateService(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}
