package cohort

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/artcohort/artcohort/internal/platform/emr"
)

func newTestHandler(store emr.Store) (*Handler, *echo.Echo) {
	h := NewHandler(NewService(store, zerolog.Nop()))
	e := echo.New()
	return h, e
}

func TestHandler_GetCohort(t *testing.T) {
	patient := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: patient, ProgramID: emr.ProgramART,
				DateEnrolled: time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)},
		},
	}
	h, e := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/?start=2020-01-01&end=2020-01-31", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("total")

	if err := h.GetCohort(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var resp setResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("expected count 1, got %d", resp.Count)
	}
	if len(resp.Patients) != 1 || resp.Patients[0] != patient {
		t.Errorf("unexpected patients: %v", resp.Patients)
	}
}

func TestHandler_GetCohort_Cd4Above200(t *testing.T) {
	tested := uuid.New()
	value := 350.0
	store := &mockStore{
		obs: []emr.Observation{
			{ID: uuid.New(), PersonID: tested, ConceptID: emr.ConceptCD4Count,
				ValueNumeric: &value, ObsDatetime: time.Date(2020, 1, 10, 0, 0, 0, 0, time.UTC)},
		},
	}
	h, e := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/?start=2020-01-01&end=2020-01-31", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("cd4-above-200")

	if err := h.GetCohort(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp setResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 1 || len(resp.Patients) != 1 || resp.Patients[0] != tested {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandler_GetCohort_InvalidPeriod(t *testing.T) {
	h, e := newTestHandler(&mockStore{})

	req := httptest.NewRequest(http.MethodGet, "/?start=2020-06-01&end=2020-01-01", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("total")

	err := h.GetCohort(c)
	if err == nil {
		t.Fatal("expected error for inverted period")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetCohort_UnknownName(t *testing.T) {
	h, e := newTestHandler(&mockStore{})

	req := httptest.NewRequest(http.MethodGet, "/?start=2020-01-01&end=2020-01-31", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues("nope")

	err := h.GetCohort(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_AliveByGender_BadGender(t *testing.T) {
	h, e := newTestHandler(&mockStore{})

	req := httptest.NewRequest(http.MethodGet, "/?start=2020-01-01&end=2020-01-31&gender=X", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.AliveByGender(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_AliveByAge(t *testing.T) {
	adult := uuid.New()
	store := &mockStore{
		enrollments: []emr.ProgramEnrollment{
			{ID: uuid.New(), PatientID: adult, ProgramID: emr.ProgramART,
				DateEnrolled: time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC)},
		},
		patients: []emr.Patient{
			{ID: adult, Gender: "F", Birthdate: time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	h, e := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/?start=2020-01-01&end=2020-01-31&op=%3E%3D&years=15", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.AliveByAge(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp setResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Count != 1 {
		t.Errorf("expected count 1, got %d", resp.Count)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(&mockStore{})
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	routePaths := make(map[string]bool)
	for _, r := range e.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}
	expected := []string{
		"GET:/api/v1/cohorts/:name",
		"GET:/api/v1/cohorts/alive-on-art/by-gender",
		"GET:/api/v1/cohorts/alive-on-art/by-age",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing expected route: %s", path)
		}
	}
}
