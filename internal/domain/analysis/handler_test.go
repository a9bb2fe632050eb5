package analysis

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func patientContext(e *echo.Echo, target string) (echo.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues("P1")
	return c, rec
}

func TestBatteryHandler(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c, rec := patientContext(e, "/")
	if err := h.Battery(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["can_predict"] != true || body["predicted_eri_date"] == nil {
		t.Errorf("expected a prediction with an ERI date, got %v", body)
	}

	c, _ = patientContext(e, "/?start=2024-02-01&end=2024-01-01")
	expectStatus(t, h.Battery(c), http.StatusBadRequest)
}

func TestImpedanceHandler_NoData(t *testing.T) {
	svc, trends, _ := newTestService()
	delete(trends.series, "lead_impedance_ventricular")
	delete(trends.series, "lead_impedance_atrial")
	h := NewHandler(svc)

	c, _ := patientContext(echo.New(), "/")
	expectStatus(t, h.Impedance(c), http.StatusUnprocessableEntity)
}

func TestArrhythmiaHandler(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c, rec := patientContext(e, "/?variable=afib_burden_percent")
	if err := h.Arrhythmia(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var a BurdenAnalysis
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Trend.Direction != DirectionUp {
		t.Errorf("expected increasing, got %s", a.Trend.Direction)
	}

	c, _ = patientContext(e, "/?variable=battery_voltage")
	expectStatus(t, h.Arrhythmia(c), http.StatusBadRequest)
}

func TestEGMHandler(t *testing.T) {
	svc, _, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectStatus(t, h.EGM(c), http.StatusBadRequest)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("6f1c1b9e-3d2a-4c5b-9e8f-0a1b2c3d4e5f")
	expectStatus(t, h.EGM(c), http.StatusNotFound)
}
