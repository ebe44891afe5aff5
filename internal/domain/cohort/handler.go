package cohort

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/artcohort/artcohort/internal/platform/auth"
	"github.com/artcohort/artcohort/internal/platform/emr"
	"github.com/artcohort/artcohort/pkg/patientset"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cohorts", auth.RequireRole("admin", "physician", "data-clerk"))
	g.GET("/alive-on-art/by-gender", h.AliveByGender)
	g.GET("/alive-on-art/by-age", h.AliveByAge)
	g.GET("/:name", h.GetCohort)
}

// setResponse is the JSON shape for every named cohort.
type setResponse struct {
	Name        string      `json:"name"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	Count       int         `json:"count"`
	Patients    []uuid.UUID `json:"patients"`
	Ambiguities int         `json:"ambiguities"`
}

func periodFromQuery(c echo.Context) (emr.Period, error) {
	p, err := emr.ParsePeriod(c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		var ipe *emr.InvalidPeriodError
		if errors.As(err, &ipe) {
			return emr.Period{}, echo.NewHTTPError(http.StatusBadRequest, ipe.Error())
		}
		return emr.Period{}, echo.NewHTTPError(http.StatusBadRequest, "invalid period")
	}
	return p, nil
}

func (h *Handler) respond(c echo.Context, name string, r *Report, set patientset.Set, err error) error {
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, setResponse{
		Name:        name,
		Start:       c.QueryParam("start"),
		End:         c.QueryParam("end"),
		Count:       set.Len(),
		Patients:    set.IDs(),
		Ambiguities: r.Ambiguities(),
	})
}

func (h *Handler) GetCohort(c echo.Context) error {
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	name := c.Param("name")
	r := h.svc.Report(p)
	ctx := c.Request().Context()

	var set patientset.Set
	switch name {
	case "enrolled":
		set, err = r.EnrolledInProgram(ctx, emr.ProgramART)
	case "total":
		set, err = r.TotalCohort(ctx)
	case "alive-on-art":
		set, err = r.AliveAndOnArt(ctx)
	case "transferred-in":
		set, err = r.TransferredIn(ctx)
	case "transferred-out":
		set, err = r.TransferredOut(ctx)
	case "lost-to-follow-up":
		set, err = r.LostToFollowUp(ctx)
	case "art-stopped":
		set, err = r.Stopped(ctx, emr.ProgramART)
	case "art-died":
		set, err = r.Died(ctx, emr.ProgramART)
	case "hiv-stopped":
		set, err = r.Stopped(ctx, emr.ProgramHIV)
	case "exited":
		set, err = r.ExitedPatients(ctx)
	case "cd4-above-200":
		set, err = r.Cd4AtLeast(ctx, 200)
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown cohort: "+name)
	}
	return h.respond(c, name, r, set, err)
}

func (h *Handler) AliveByGender(c echo.Context) error {
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	gender := c.QueryParam("gender")
	if gender != "M" && gender != "F" {
		return echo.NewHTTPError(http.StatusBadRequest, "gender must be M or F")
	}
	r := h.svc.Report(p)
	set, err := r.ByGender(c.Request().Context(), gender)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.respond(c, "alive-on-art/by-gender", r, set, nil)
}

func (h *Handler) AliveByAge(c echo.Context) error {
	p, err := periodFromQuery(c)
	if err != nil {
		return err
	}
	years, err := strconv.Atoi(c.QueryParam("years"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid years")
	}
	f := emr.AgeFilter{Op: c.QueryParam("op"), Years: years}
	if err := f.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := h.svc.Report(p)
	set, err := r.ByAge(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.respond(c, "alive-on-art/by-age", r, set, nil)
}
