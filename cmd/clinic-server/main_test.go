package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onclinic/clinic/internal/config"
	"github.com/onclinic/clinic/internal/domain/inventory"
	"github.com/onclinic/clinic/internal/platform/db"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{
		Env:                 "development",
		StoreBackend:        config.BackendMemory,
		ClinicTimezone:      "Asia/Kolkata",
		DefaultTenant:       "default",
		CORSOrigins:         []string{"*"},
		NumberingMaxRetries: 5,
		ExpiryWindowDays:    30,
	}
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestServer_Health(t *testing.T) {
	e := newTestApp(t).newServer()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_DevAuthRoutes(t *testing.T) {
	e := newTestApp(t).newServer()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/doctors", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := `{"name":"Dr. Rao","specialization":"General","consultation_fee":"400"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/doctors", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServer_PatientRegistration(t *testing.T) {
	e := newTestApp(t).newServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"name":"Asha"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p struct {
		PatientID string `json:"patient_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Regexp(t, `^\d{4}/0001$`, p.PatientID)
}

func TestServer_UnknownRoute(t *testing.T) {
	e := newTestApp(t).newServer()

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nothing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrintStatuses(t *testing.T) {
	var buf bytes.Buffer
	printStatuses(&buf, "clinic_default", []db.MigrationStatus{
		{Version: 1, Name: "core", Applied: false},
	})
	out := buf.String()
	assert.Contains(t, out, "clinic_default")
	assert.Contains(t, out, "core")
	assert.Contains(t, out, "pending")
}

func TestPrintReconcile(t *testing.T) {
	var buf bytes.Buffer
	printReconcile(&buf, nil)
	assert.Contains(t, buf.String(), "matches the ledger")

	buf.Reset()
	printReconcile(&buf, []*inventory.ReconcileResult{
		{ItemName: "Paracetamol", Stored: 7, Ledger: 5, Repaired: true},
	})
	assert.Contains(t, buf.String(), "repaired")
	assert.Contains(t, buf.String(), "1 item(s) drifted, 1 repaired.")
}

func TestSchemeNames(t *testing.T) {
	assert.Equal(t, []string{"clinic_bill", "patient_id", "pharmacy_bill", "prescription_serial"}, schemeNames())
}
