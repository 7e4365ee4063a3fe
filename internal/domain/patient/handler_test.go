package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/onclinic/clinic/internal/platform/auth"
)

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(context.Background(), "recep-1", []string{auth.RoleReceptionist}))
}

func TestHandler_Register(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2025, 3, 1, 10, 0, 0, 0, ist))
	h := NewHandler(svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"name":"Asha","gender":"female","age":34}`), rec)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.PatientID != "2025/0001" {
		t.Errorf("unexpected patient id %s", p.PatientID)
	}
}

func TestHandler_Register_MissingName(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	h := NewHandler(svc)
	e := echo.New()

	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"age":3}`), httptest.NewRecorder())
	err := h.Register(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Get(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	h := NewHandler(svc)
	e := echo.New()

	c := e.NewContext(jsonRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if he, ok := h.Get(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id")
	}

	c = e.NewContext(jsonRequest(http.MethodGet, "/", ""), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if he, ok := h.Get(c).(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown patient")
	}
}

func TestHandler_List(t *testing.T) {
	svc, _ := newTestService(t, time.Now())
	for _, name := range []string{"Asha", "Ravi", "Meena"} {
		if err := svc.Register(context.Background(), &Patient{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	h := NewHandler(svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodGet, "/?limit=2", ""), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Data) != 2 {
		t.Errorf("expected 2 of 3, got %d of %d", len(body.Data), body.Total)
	}
}
