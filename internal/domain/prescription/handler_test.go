package prescription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onclinic/clinic/internal/platform/auth"
)

func TestHandler_Create(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, ist)
	e := echo.New()

	body := `{"patient_id":"` + f.patient.String() + `","doctor_id":"` + f.doctor.String() + `","visit_type":"appointment","advice":"rest"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithUser(context.Background(), "doc-9", []string{auth.RoleDoctor}))
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.SerialNumber != "250615001" {
		t.Errorf("unexpected serial %s", p.SerialNumber)
	}
	if p.CreatedBy == nil || *p.CreatedBy != "doc-9" {
		t.Errorf("expected created_by doc-9, got %v", p.CreatedBy)
	}
}

func TestHandler_List_BadDate(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, ist)
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=15-06-2025", nil), httptest.NewRecorder())
	he, ok := h.List(c).(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed date")
	}
}

func TestHandler_List_ByDate(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc, ist)
	e := echo.New()
	if err := f.svc.Create(context.Background(), f.prescription(VisitWalkIn), ""); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?date=2001-01-01", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":0`) {
		t.Errorf("expected no prescriptions on 2001-01-01, got %s", rec.Body.String())
	}
}
